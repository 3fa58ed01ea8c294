package graph

import (
	_ "embed"
	"net/http"

	"github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
)

//go:embed schema.graphql
var sdl string

// NewSchema 解析 SDL 并绑定根解析器；解析器与 SDL 不匹配时 panic。
func NewSchema(r *Resolver) *graphql.Schema {
	return graphql.MustParseSchema(sdl, r, graphql.MaxDepth(12), graphql.MaxParallelism(16))
}

// Handler 处理 POST /graphql 的查询与变更请求。
func Handler(schema *graphql.Schema) http.Handler {
	return &relay.Handler{Schema: schema}
}
