package handler

import (
	"context"
	"net/http"

	"github.com/c00lpeace/project-template-final/internal/api/response"
	"github.com/c00lpeace/project-template-final/internal/plc"
	"github.com/go-chi/chi/v5"
)

// PLCService is the part of plc.Service the handlers need.
type PLCService interface {
	Tree(ctx context.Context) ([]plc.PlantNode, error)
	GetPLC(ctx context.Context, id string) (*plc.BasicInfo, error)
}

// NewPLCTreeHandler returns an http.HandlerFunc for GET /plc/tree.
func NewPLCTreeHandler(svc PLCService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tree, err := svc.Tree(r.Context())
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.JSON(w, tree)
	}
}

// NewGetPLCHandler returns an http.HandlerFunc for GET /plc/{plcID}.
func NewGetPLCHandler(svc PLCService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := svc.GetPLC(r.Context(), chi.URLParam(r, "plcID"))
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.JSON(w, info)
	}
}
