package httpresp

const (
	ErrUnauthorized       = "unauthorized"
	ErrMissingBearerToken = "bearer token is required"
	ErrInvalidToken       = "invalid token"
	ErrForbidden          = "forbidden"
	ErrNotFound           = "not found"
	ErrInternal           = "internal error"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type IDResponse struct {
	ID int64 `json:"id"`
}

type ItemsResponse[T any] struct {
	Items []T `json:"items"`
}

func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: message}
}

func NewCodedErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{Error: message, Code: code}
}

func NewOKResponse() OKResponse {
	return OKResponse{OK: true}
}

func NewIDResponse(id int64) IDResponse {
	return IDResponse{ID: id}
}

func NewItemsResponse[T any](items []T) ItemsResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ItemsResponse[T]{Items: items}
}
