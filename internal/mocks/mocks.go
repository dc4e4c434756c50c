// Package mocks provides testify mocks of the registry and the container
// engine for package tests.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/robert-cronin/imagerelease/pkg/engine"
	"github.com/robert-cronin/imagerelease/pkg/registry"
	"github.com/robert-cronin/imagerelease/pkg/report"
	"github.com/robert-cronin/imagerelease/pkg/types"
)

type Registry struct {
	mock.Mock
}

var _ registry.Registry = (*Registry)(nil)

func (m *Registry) AssumeRole(ctx context.Context, roleARN string) (registry.Registry, types.Credentials, error) {
	args := m.Called(ctx, roleARN)
	r, _ := args.Get(0).(registry.Registry)
	creds, _ := args.Get(1).(types.Credentials)
	return r, creds, args.Error(2)
}

func (m *Registry) Credentials(ctx context.Context, uri string) (string, string, error) {
	args := m.Called(ctx, uri)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *Registry) ImageExists(ctx context.Context, uri string) (bool, error) {
	args := m.Called(ctx, uri)
	return args.Bool(0), args.Error(1)
}

func (m *Registry) ScanFindings(ctx context.Context, uri string) (*report.Report, error) {
	args := m.Called(ctx, uri)
	r, _ := args.Get(0).(*report.Report)
	return r, args.Error(1)
}

func (m *Registry) IsScanPending(ctx context.Context, uri string) (bool, error) {
	args := m.Called(ctx, uri)
	return args.Bool(0), args.Error(1)
}

func (m *Registry) ImageScanFindings(ctx context.Context, uri string, severities sets.Set[types.Severity], excluded sets.Set[string]) ([]string, error) {
	args := m.Called(ctx, uri, severities, excluded)
	found, _ := args.Get(0).([]string)
	return found, args.Error(1)
}

func (m *Registry) SetParameter(ctx context.Context, name, value string) error {
	return m.Called(ctx, name, value).Error(0)
}

func (m *Registry) StartPipeline(ctx context.Context, name string) (string, error) {
	args := m.Called(ctx, name)
	return args.String(0), args.Error(1)
}

func (m *Registry) PipelineStatus(ctx context.Context, name, executionID string) (types.PipelineStatus, error) {
	args := m.Called(ctx, name, executionID)
	status, _ := args.Get(0).(types.PipelineStatus)
	return status, args.Error(1)
}

type Engine struct {
	mock.Mock
}

var _ engine.Engine = (*Engine)(nil)

func (m *Engine) Build(ctx context.Context, req engine.BuildRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *Engine) Login(ctx context.Context, username, password, uri string) error {
	return m.Called(ctx, username, password, uri).Error(0)
}

func (m *Engine) Push(ctx context.Context, uri string) error {
	return m.Called(ctx, uri).Error(0)
}

func (m *Engine) Pull(ctx context.Context, uri string) error {
	return m.Called(ctx, uri).Error(0)
}

func (m *Engine) Tag(ctx context.Context, src, dst string) error {
	return m.Called(ctx, src, dst).Error(0)
}

func (m *Engine) PruneAll(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
