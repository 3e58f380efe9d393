package api

import (
	"wellness_hub/server/common/transport/httpresp"
)

type ErrorResponse = httpresp.ErrorResponse
type OKResponse = httpresp.OKResponse

type HealthResponse struct {
	Status string `json:"status"`
}

type PageResponse[T any] struct {
	Items    []T `json:"items"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

func NewHealthResponse(status string) HealthResponse {
	return HealthResponse{Status: status}
}

func NewPageResponse[T any](items []T, page, pageSize int) PageResponse[T] {
	if items == nil {
		items = []T{}
	}
	return PageResponse[T]{Items: items, Page: page, PageSize: pageSize}
}

func NewItemsResponse[T any](items []T) httpresp.ItemsResponse[T] {
	return httpresp.NewItemsResponse(items)
}

func NewOKResponse() OKResponse {
	return httpresp.NewOKResponse()
}
