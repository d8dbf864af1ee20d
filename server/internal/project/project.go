// Package project manages generated websites: creation and revision (both
// paid for with credits), versions, publishing and ownership checks.
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sitesmith/sitesmith/server/internal/events"
	"github.com/sitesmith/sitesmith/server/internal/generator"
	"github.com/sitesmith/sitesmith/server/internal/store"
)

var (
	ErrNotFound   = errors.New("project not found")
	ErrEmptyCode  = errors.New("code is required")
	ErrGeneration = errors.New("site generation failed")
)

const maxNameLength = 50

// Options wires a Service.
type Options struct {
	Store     store.Store
	Generator generator.Generator
	Cost      int         // credits per creation or revision
	Bus       *events.Bus // optional
	Logger    *slog.Logger
}

// Service implements the project operations for one owner at a time.
type Service struct {
	store  store.Store
	gen    generator.Generator
	cost   int
	bus    *events.Bus
	logger *slog.Logger
}

// NewService creates a project service.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  opts.Store,
		gen:    opts.Generator,
		cost:   opts.Cost,
		bus:    opts.Bus,
		logger: logger.With("component", "project"),
	}
}

// Detail is a project with its conversation and version history.
type Detail struct {
	store.Project
	Conversation []store.ProjectMessage `json:"conversation"`
	Versions     []store.ProjectVersion `json:"versions"`
}

// Cost returns the credit price of one generation.
func (s *Service) Cost() int { return s.cost }

// Create charges the owner, generates the first version and stores the
// project. A failed generation refunds the charge and leaves no project.
func (s *Service) Create(ctx context.Context, userID, prompt string) (*store.Project, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, generator.ErrEmptyPrompt
	}

	now := time.Now()
	p := &store.Project{
		ID:            uuid.New().String(),
		UserID:        userID,
		Name:          projectName(prompt),
		InitialPrompt: prompt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.charge(ctx, userID, store.ReasonProjectCreate, p.ID); err != nil {
		return nil, err
	}
	if err := s.store.CreateProject(ctx, p); err != nil {
		s.refund(ctx, userID, p.ID)
		return nil, fmt.Errorf("create project: %w", err)
	}

	res, err := s.gen.Generate(ctx, generator.Request{Prompt: prompt})
	if err != nil {
		s.logger.Error("generation failed", "project_id", p.ID, "user_id", userID, "error", err)
		s.discard(ctx, userID, p.ID)
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	v, err := s.commit(ctx, p.ID, prompt, res)
	if err != nil {
		s.logger.Error("store generated project", "project_id", p.ID, "user_id", userID, "error", err)
		s.discard(ctx, userID, p.ID)
		return nil, err
	}
	p.CurrentCode = v.Code
	p.CurrentVersionID = v.ID

	s.logger.Info("project created", "project_id", p.ID, "user_id", userID)
	s.publish(userID, events.ProjectCreated, map[string]any{"project_id": p.ID, "name": p.Name})
	return p, nil
}

// Revise charges the owner and applies message to the current code as a new
// version. A failed generation refunds the charge.
func (s *Service) Revise(ctx context.Context, userID, projectID, message string) (*store.ProjectVersion, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, generator.ErrEmptyPrompt
	}
	p, err := s.owned(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}

	if err := s.charge(ctx, userID, store.ReasonProjectRevision, p.ID); err != nil {
		return nil, err
	}

	res, err := s.gen.Generate(ctx, generator.Request{Prompt: message, CurrentCode: p.CurrentCode})
	if err != nil {
		s.logger.Error("revision failed", "project_id", p.ID, "user_id", userID, "error", err)
		s.refund(ctx, userID, p.ID)
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	v, err := s.commit(ctx, p.ID, message, res)
	if err != nil {
		s.logger.Error("store revision", "project_id", p.ID, "user_id", userID, "error", err)
		s.refund(ctx, userID, p.ID)
		return nil, err
	}
	s.publish(userID, events.ProjectUpdated, map[string]any{"project_id": p.ID, "version_id": v.ID})
	return v, nil
}

// discard removes a project whose first version could not be produced and
// returns the creation charge.
func (s *Service) discard(ctx context.Context, userID, projectID string) {
	if err := s.store.DeleteProject(context.WithoutCancel(ctx), projectID); err != nil {
		s.logger.Error("remove failed project", "project_id", projectID, "error", err)
	}
	s.refund(ctx, userID, projectID)
}

// commit stores a generated version, makes it current and records the
// exchange in the conversation.
func (s *Service) commit(ctx context.Context, projectID, prompt string, res *generator.Result) (*store.ProjectVersion, error) {
	now := time.Now()
	v := &store.ProjectVersion{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		Code:        res.Code,
		Description: res.Description,
		CreatedAt:   now,
	}
	if err := s.store.AddProjectVersion(ctx, v); err != nil {
		return nil, fmt.Errorf("add version: %w", err)
	}
	if err := s.store.UpdateProjectCode(ctx, projectID, v.Code, v.ID); err != nil {
		return nil, fmt.Errorf("update code: %w", err)
	}

	for _, m := range []store.ProjectMessage{
		{Role: "user", Content: prompt},
		{Role: "assistant", Content: res.Description},
	} {
		m.ID = uuid.New().String()
		m.ProjectID = projectID
		m.CreatedAt = now
		if err := s.store.AppendProjectMessage(ctx, &m); err != nil {
			s.logger.Warn("append message", "project_id", projectID, "error", err)
		}
	}
	return v, nil
}

// Save overwrites the current code with a hand edit. The edit is not a version.
func (s *Service) Save(ctx context.Context, userID, projectID, code string) error {
	if strings.TrimSpace(code) == "" {
		return ErrEmptyCode
	}
	p, err := s.owned(ctx, userID, projectID)
	if err != nil {
		return err
	}
	if err := s.store.UpdateProjectCode(ctx, p.ID, code, p.CurrentVersionID); err != nil {
		return fmt.Errorf("save code: %w", err)
	}
	s.publish(userID, events.ProjectUpdated, map[string]any{"project_id": p.ID})
	return nil
}

// Rollback makes an earlier version current again.
func (s *Service) Rollback(ctx context.Context, userID, projectID, versionID string) (*store.ProjectVersion, error) {
	p, err := s.owned(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	v, err := s.store.GetProjectVersion(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	if v == nil || v.ProjectID != p.ID {
		return nil, ErrNotFound
	}
	if err := s.store.UpdateProjectCode(ctx, p.ID, v.Code, v.ID); err != nil {
		return nil, fmt.Errorf("rollback: %w", err)
	}
	s.publish(userID, events.ProjectUpdated, map[string]any{"project_id": p.ID, "version_id": v.ID})
	return v, nil
}

// Delete removes a project with its versions and conversation.
func (s *Service) Delete(ctx context.Context, userID, projectID string) error {
	p, err := s.owned(ctx, userID, projectID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, p.ID); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	s.logger.Info("project deleted", "project_id", p.ID, "user_id", userID)
	return nil
}

// TogglePublish flips the published flag and returns the new value.
func (s *Service) TogglePublish(ctx context.Context, userID, projectID string) (bool, error) {
	p, err := s.owned(ctx, userID, projectID)
	if err != nil {
		return false, err
	}
	published := !p.Published
	if err := s.store.SetProjectPublished(ctx, p.ID, published); err != nil {
		return false, fmt.Errorf("set published: %w", err)
	}
	return published, nil
}

// Get returns an owned project with its history.
func (s *Service) Get(ctx context.Context, userID, projectID string) (*Detail, error) {
	p, err := s.owned(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.ListProjectMessages(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	versions, err := s.store.ListProjectVersions(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	if msgs == nil {
		msgs = []store.ProjectMessage{}
	}
	if versions == nil {
		versions = []store.ProjectVersion{}
	}
	return &Detail{Project: *p, Conversation: msgs, Versions: versions}, nil
}

// Preview returns the current code of an owned project.
func (s *Service) Preview(ctx context.Context, userID, projectID string) (string, error) {
	p, err := s.owned(ctx, userID, projectID)
	if err != nil {
		return "", err
	}
	return p.CurrentCode, nil
}

// List returns the owner's projects, most recently updated first.
func (s *Service) List(ctx context.Context, userID string) ([]store.Project, error) {
	projects, err := s.store.ListProjectsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	if projects == nil {
		projects = []store.Project{}
	}
	return projects, nil
}

// Published returns every published project.
func (s *Service) Published(ctx context.Context) ([]store.Project, error) {
	projects, err := s.store.ListPublishedProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list published: %w", err)
	}
	if projects == nil {
		projects = []store.Project{}
	}
	return projects, nil
}

// PublishedCode returns the code of a published project. Unpublished
// projects are reported as missing.
func (s *Service) PublishedCode(ctx context.Context, projectID string) (string, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("get project: %w", err)
	}
	if p == nil || !p.Published {
		return "", ErrNotFound
	}
	return p.CurrentCode, nil
}

// owned loads a project and hides it from anyone but its owner.
func (s *Service) owned(ctx context.Context, userID, projectID string) (*store.Project, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	if p == nil || p.UserID != userID {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *Service) charge(ctx context.Context, userID, reason, projectID string) error {
	if s.cost <= 0 {
		return nil
	}
	balance, err := s.store.ConsumeCredits(ctx, userID, s.cost, reason, projectID)
	if err != nil {
		return err
	}
	s.publish(userID, events.CreditsUpdated, map[string]any{"credits": balance})
	return nil
}

// refund returns a charge after a failed generation. It runs even when the
// request context was cancelled.
func (s *Service) refund(ctx context.Context, userID, projectID string) {
	if s.cost <= 0 {
		return
	}
	balance, err := s.store.AddCredits(context.WithoutCancel(ctx), userID, s.cost, store.ReasonRefund, projectID)
	if err != nil {
		s.logger.Error("refund failed", "user_id", userID, "project_id", projectID, "credits", s.cost, "error", err)
		return
	}
	s.publish(userID, events.CreditsUpdated, map[string]any{"credits": balance})
}

func (s *Service) publish(userID, eventType string, data any) {
	if s.bus != nil {
		s.bus.PublishUser(userID, eventType, data)
	}
}

func projectName(prompt string) string {
	name := strings.Join(strings.Fields(prompt), " ")
	if r := []rune(name); len(r) > maxNameLength {
		name = strings.TrimSpace(string(r[:maxNameLength-3])) + "..."
	}
	return name
}
