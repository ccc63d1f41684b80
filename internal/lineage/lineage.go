// Package lineage implements the Artifact Lineage Service of spec §4.6: a
// content-addressed, append-only store of artifacts with parent/child
// provenance edges and per-artifact modification history.
package lineage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/opsdeck/foreman/internal/bus"
	"github.com/opsdeck/foreman/internal/clock"
	"github.com/opsdeck/foreman/internal/model"
	"github.com/opsdeck/foreman/internal/repository"
)

// RecordInput describes a newly captured artifact.
type RecordInput struct {
	Name          string
	WorkflowID    string
	TaskID        string
	Agent         string
	WorkspaceRoot string
	AbsPath       string
	Bytes         []byte
	CreationNote  string
	ParentIDs     []string
}

// Service is the lineage store. It owns a single mutation path (spec §5);
// all reads are snapshot copies.
type Service struct {
	repo  repository.Repository
	bus   *bus.Bus
	clock clock.Clock

	mu        sync.RWMutex
	artifacts map[string]*model.Artifact
	children  map[string][]string // parent id -> child ids
	byHash    map[string][]string // content hash -> artifact ids
}

func (s *Service) lock()       { s.mu.Lock() }
func (s *Service) unlock()     { s.mu.Unlock() }
func (s *Service) lockRead()   { s.mu.RLock() }
func (s *Service) unlockRead() { s.mu.RUnlock() }

// New returns an empty lineage Service.
func New(repo repository.Repository, b *bus.Bus, c clock.Clock) *Service {
	return &Service{
		repo:      repo,
		bus:       b,
		clock:     c,
		artifacts: make(map[string]*model.Artifact),
		children:  make(map[string][]string),
		byHash:    make(map[string][]string),
	}
}

// Record computes the SHA-256 of the given bytes, rejects registration if
// the absolute path escapes the workspace root, and stores a new artifact.
// Two Record calls with identical bytes produce artifacts with the same
// hash but distinct ids — the service does not deduplicate (spec §4.6).
func (s *Service) Record(ctx context.Context, in RecordInput) (*model.Artifact, error) {
	absClean := filepath.Clean(in.AbsPath)
	rootClean := filepath.Clean(in.WorkspaceRoot) + string(filepath.Separator)
	if absClean != filepath.Clean(in.WorkspaceRoot) && !strings.HasPrefix(absClean, rootClean) {
		return nil, model.NewError(model.WorkspaceViolation, fmt.Sprintf("artifact path %q escapes workspace root %q", in.AbsPath, in.WorkspaceRoot), nil)
	}

	sum := sha256.Sum256(in.Bytes)
	hash := hex.EncodeToString(sum[:])
	rel, err := filepath.Rel(in.WorkspaceRoot, absClean)
	if err != nil {
		return nil, fmt.Errorf("lineage: computing relative path: %w", err)
	}

	s.lock()
	defer s.unlock()

	for _, pid := range in.ParentIDs {
		if _, ok := s.artifacts[pid]; !ok {
			return nil, model.NewError(model.InvalidInput, fmt.Sprintf("parent artifact %q does not exist", pid), nil)
		}
	}

	a := &model.Artifact{
		ID:           uuid.New().String(),
		Name:         in.Name,
		RelPath:      rel,
		AbsPath:      absClean,
		Agent:        in.Agent,
		TaskID:       in.TaskID,
		WorkflowID:   in.WorkflowID,
		SizeBytes:    int64(len(in.Bytes)),
		FileType:     strings.TrimPrefix(filepath.Ext(in.Name), "."),
		ContentHash:  hash,
		CreatedAt:    s.clock.Now(),
		CreationNote: in.CreationNote,
		ParentIDs:    append([]string(nil), in.ParentIDs...),
		History: []model.ModificationEntry{{
			Timestamp: s.clock.Now(),
			Actor:     in.Agent,
			Action:    "created",
			Details:   in.CreationNote,
			HashAfter: hash,
		}},
	}

	s.artifacts[a.ID] = a
	s.byHash[hash] = append(s.byHash[hash], a.ID)
	for _, pid := range in.ParentIDs {
		s.children[pid] = append(s.children[pid], a.ID)
	}

	if err := s.repo.SaveArtifact(ctx, a); err != nil {
		return nil, err
	}
	if s.bus != nil {
		s.bus.Publish(bus.Event{
			Type:       bus.ArtifactRecorded,
			WorkflowID: in.WorkflowID,
			TaskID:     in.TaskID,
			Agent:      in.Agent,
			Payload:    map[string]interface{}{"artifact_id": a.ID, "name": a.Name, "hash": hash},
		})
	}
	return a.Clone(), nil
}

// Update appends a modification entry and updates the current hash.
func (s *Service) Update(ctx context.Context, id string, newBytes []byte, actor, details string) (*model.Artifact, error) {
	sum := sha256.Sum256(newBytes)
	newHash := hex.EncodeToString(sum[:])

	s.lock()
	defer s.unlock()

	a, ok := s.artifacts[id]
	if !ok {
		return nil, model.NewError(model.InvalidInput, fmt.Sprintf("artifact %q not found", id), nil)
	}
	before := a.ContentHash
	a.ContentHash = newHash
	a.SizeBytes = int64(len(newBytes))
	a.History = append(a.History, model.ModificationEntry{
		Timestamp:  s.clock.Now(),
		Actor:      actor,
		Action:     "edited",
		Details:    details,
		HashBefore: before,
		HashAfter:  newHash,
	})
	s.byHash[newHash] = append(s.byHash[newHash], a.ID)

	if err := s.repo.SaveArtifact(ctx, a); err != nil {
		return nil, err
	}
	if s.bus != nil {
		s.bus.Publish(bus.Event{
			Type:       bus.ArtifactUpdated,
			WorkflowID: a.WorkflowID,
			TaskID:     a.TaskID,
			Agent:      a.Agent,
			Payload:    map[string]interface{}{"artifact_id": a.ID, "hash": newHash},
		})
	}
	return a.Clone(), nil
}

// GetWithLineage returns an artifact with its full ancestry, one level of
// descendants, and siblings sharing its content hash.
func (s *Service) GetWithLineage(id string) (*model.WithLineage, error) {
	s.lockRead()
	defer s.unlockRead()

	a, ok := s.artifacts[id]
	if !ok {
		return nil, model.NewError(model.InvalidInput, fmt.Sprintf("artifact %q not found", id), nil)
	}

	seen := map[string]bool{id: true}
	var ancestors []*model.Artifact
	queue := append([]string(nil), a.ParentIDs...)
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		if seen[pid] {
			continue
		}
		seen[pid] = true
		p, ok := s.artifacts[pid]
		if !ok {
			continue
		}
		ancestors = append(ancestors, p.Clone())
		queue = append(queue, p.ParentIDs...)
	}

	var descendants []*model.Artifact
	for _, cid := range s.children[id] {
		if c, ok := s.artifacts[cid]; ok {
			descendants = append(descendants, c.Clone())
		}
	}

	var siblings []*model.Artifact
	for _, sid := range s.byHash[a.ContentHash] {
		if sid == id {
			continue
		}
		if sib, ok := s.artifacts[sid]; ok {
			siblings = append(siblings, sib.Clone())
		}
	}

	return &model.WithLineage{
		Artifact:       a.Clone(),
		Ancestors:      ancestors,
		Descendants:    descendants,
		SiblingsByHash: siblings,
	}, nil
}

const defaultSearchCap = 500

// Search filters artifacts by the given criteria, size-capped.
func (s *Service) Search(criteria model.SearchCriteria) []*model.Artifact {
	s.lockRead()
	defer s.unlockRead()

	limit := criteria.Limit
	if limit <= 0 || limit > defaultSearchCap {
		limit = defaultSearchCap
	}

	ids := make([]string, 0, len(s.artifacts))
	for id := range s.artifacts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []*model.Artifact
	for _, id := range ids {
		a := s.artifacts[id]
		if criteria.WorkflowID != "" && a.WorkflowID != criteria.WorkflowID {
			continue
		}
		if criteria.AgentName != "" && a.Agent != criteria.AgentName {
			continue
		}
		if criteria.FileName != "" && a.Name != criteria.FileName {
			continue
		}
		if criteria.FileType != "" && a.FileType != criteria.FileType {
			continue
		}
		if criteria.CreatedAfter != nil && a.CreatedAt.Before(*criteria.CreatedAfter) {
			continue
		}
		// The service never retains raw file bytes past Record, so a content
		// search can only match the hex digest, not the file's text.
		if criteria.ContentSubstr != "" && !strings.Contains(a.ContentHash, criteria.ContentSubstr) {
			continue
		}
		out = append(out, a.Clone())
		if len(out) >= limit {
			break
		}
	}
	return out
}

// ReportAggregate computes counts by agent, workflow, and type, plus
// artifacts whose producing task is missing (orphans).
func (s *Service) ReportAggregate(knownTasks map[string]bool) model.Report {
	s.lockRead()
	defer s.unlockRead()

	r := model.Report{
		ByAgent:    make(map[string]int),
		ByWorkflow: make(map[string]int),
		ByType:     make(map[string]int),
	}
	for _, a := range s.artifacts {
		r.ByAgent[a.Agent]++
		r.ByWorkflow[a.WorkflowID]++
		r.ByType[a.FileType]++
		if a.TaskID != "" && knownTasks != nil && !knownTasks[a.TaskID] {
			r.Orphans = append(r.Orphans, a.ID)
		}
	}
	sort.Strings(r.Orphans)
	return r
}
