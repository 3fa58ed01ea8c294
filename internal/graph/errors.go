package graph

import (
	"net/http"

	"messenger/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/graph-gophers/graphql-go"
	qerrors "github.com/graph-gophers/graphql-go/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// codedError 在 GraphQL 错误的 extensions.code 中带上 HTTP 风格状态码。
type codedError struct {
	status  int
	message string
}

func (e *codedError) Error() string { return e.message }

func (e *codedError) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": e.status}
}

// toGraphQL 保留业务错误的状态码；其余错误记日志后统一为 500。
func toGraphQL(err error) error {
	if err == nil {
		return nil
	}
	var se *service.Error
	if errors.As(err, &se) {
		return &codedError{status: se.Status, message: se.Message}
	}
	log.Error().Err(err).Msg("graphql resolver")
	return &codedError{status: http.StatusInternalServerError, message: "internal error"}
}

// subscriptionError 把错误转换为 QueryError；订阅解析器返回的普通错误不会带上 extensions。
func subscriptionError(err error) error {
	if err == nil {
		return nil
	}
	qe := qerrors.Errorf("%s", err)
	var ce *codedError
	if errors.As(err, &ce) {
		qe.Extensions = ce.Extensions()
	}
	return qe
}

var validate = validator.New()

// parseID 校验并解析 UUID 形式的 ID 参数。
func parseID(name string, id graphql.ID) (uuid.UUID, error) {
	if err := validate.Var(string(id), "required,uuid"); err != nil {
		return uuid.Nil, &codedError{status: http.StatusBadRequest, message: "invalid " + name}
	}
	return uuid.MustParse(string(id)), nil
}

func parseOptionalID(name string, id *graphql.ID) (*uuid.UUID, error) {
	if id == nil {
		return nil, nil
	}
	v, err := parseID(name, *id)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
