package handler_test

import (
	"context"

	"github.com/c00lpeace/project-template-final/internal/plc"
	"github.com/c00lpeace/project-template-final/internal/program"
	"github.com/c00lpeace/project-template-final/pkg/models"
)

// mockPrograms records the arguments of the last call and replays canned
// answers.
type mockPrograms struct {
	registerReq program.RegisterRequest
	registerRes *program.RegisterResult

	program  *models.Program
	programs []*models.Program
	status   *program.StatusInfo
	retry    *program.RetryResult
	failures *program.FailureList
	err      error

	gotProgramID   string
	gotUserID      string
	gotRetryType   string
	gotFailureType string
}

func (m *mockPrograms) Register(_ context.Context, req program.RegisterRequest) (*program.RegisterResult, error) {
	m.registerReq = req
	return m.registerRes, m.err
}

func (m *mockPrograms) GetProgram(_ context.Context, programID, userID string) (*models.Program, error) {
	m.gotProgramID, m.gotUserID = programID, userID
	return m.program, m.err
}

func (m *mockPrograms) ListPrograms(_ context.Context, userID string) ([]*models.Program, error) {
	m.gotUserID = userID
	return m.programs, m.err
}

func (m *mockPrograms) GetProgramStatus(_ context.Context, programID, userID string) (*program.StatusInfo, error) {
	m.gotProgramID, m.gotUserID = programID, userID
	return m.status, m.err
}

func (m *mockPrograms) RetryFailedFiles(_ context.Context, programID, userID, retryType string) (*program.RetryResult, error) {
	m.gotProgramID, m.gotUserID, m.gotRetryType = programID, userID, retryType
	return m.retry, m.err
}

func (m *mockPrograms) ListFailures(_ context.Context, programID, userID, failureType string) (*program.FailureList, error) {
	m.gotProgramID, m.gotUserID, m.gotFailureType = programID, userID, failureType
	return m.failures, m.err
}

type mockPLCs struct {
	tree  []plc.PlantNode
	info  *plc.BasicInfo
	err   error
	gotID string
}

func (m *mockPLCs) Tree(_ context.Context) ([]plc.PlantNode, error) {
	return m.tree, m.err
}

func (m *mockPLCs) GetPLC(_ context.Context, id string) (*plc.BasicInfo, error) {
	m.gotID = id
	return m.info, m.err
}
