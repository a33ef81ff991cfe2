package plc

import (
	"context"
	"errors"
	"log/slog"

	"github.com/c00lpeace/project-template-final/internal/store"
	"github.com/c00lpeace/project-template-final/pkg/apperr"
	"github.com/c00lpeace/project-template-final/pkg/models"
)

// Repository is the part of the store the PLC read side needs.
type Repository interface {
	GetPLC(ctx context.Context, id string) (*models.PLC, error)
	GetProgramIDByPLC(ctx context.Context, plcID string) (string, error)
	ListPLCTreeRows(ctx context.Context) ([]models.PLCTreeRow, error)
}

// BasicInfo is the single PLC view.
type BasicInfo struct {
	ID                string  `json:"id"`
	PLCID             string  `json:"plc_id"`
	PLCName           string  `json:"plc_name"`
	Plant             *string `json:"plant"`
	Process           *string `json:"process"`
	Line              *string `json:"line"`
	EquipmentGroup    *string `json:"equipment_group"`
	Unit              *string `json:"unit"`
	ProgramID         *string `json:"program_id"`
	ProgramIDChanged  bool    `json:"program_id_changed"`
	PreviousProgramID *string `json:"previous_program_id"`
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, logger: slog.Default().With("component", "plc_service")}
}

// GetPLC returns an active PLC. Missing and inactive PLCs are both PLC_NOT_FOUND.
func (s *Service) GetPLC(ctx context.Context, id string) (*BasicInfo, error) {
	p, err := s.repo.GetPLC(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Newf(apperr.CodePLCNotFound, "PLC not found: %s", id)
	}
	if err != nil {
		s.logger.Error("failed to load plc", "id", id, "error", err)
		return nil, apperr.Wrap(apperr.CodeDatabaseQueryError, err)
	}
	if !p.IsActive {
		return nil, apperr.Newf(apperr.CodePLCNotFound, "PLC is inactive: %s", id)
	}
	return &BasicInfo{
		ID:                p.ID,
		PLCID:             p.PLCID,
		PLCName:           p.PLCName,
		Plant:             p.Plant,
		Process:           p.Process,
		Line:              p.Line,
		EquipmentGroup:    p.EquipmentGroup,
		Unit:              p.Unit,
		ProgramID:         p.ProgramID,
		ProgramIDChanged:  p.ProgramIDChanged(),
		PreviousProgramID: p.PreviousProgramID,
	}, nil
}

// ProgramIDForPLC returns the program mapped to plcID, or "" when the PLC has
// no program.
func (s *Service) ProgramIDForPLC(ctx context.Context, plcID string) (string, error) {
	id, err := s.repo.GetProgramIDByPLC(ctx, plcID)
	if errors.Is(err, store.ErrNotFound) {
		return "", apperr.Newf(apperr.CodePLCNotFound, "PLC not found: %s", plcID)
	}
	if err != nil {
		return "", apperr.Wrap(apperr.CodeDatabaseQueryError, err)
	}
	return id, nil
}

// Tree returns every active PLC grouped by plant hierarchy.
func (s *Service) Tree(ctx context.Context) ([]PlantNode, error) {
	rows, err := s.repo.ListPLCTreeRows(ctx)
	if err != nil {
		s.logger.Error("failed to list plc tree rows", "error", err)
		return nil, apperr.Wrap(apperr.CodeDatabaseQueryError, err)
	}
	return BuildTree(rows), nil
}
