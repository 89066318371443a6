package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lazypower/storywalk/internal/engine"
	"github.com/lazypower/storywalk/internal/store"
)

type sceneRequest struct {
	ID         string               `json:"id" validate:"required,max=256"`
	Timestamp  string               `json:"timestamp" validate:"required"`
	Title      string               `json:"title"`
	Content    string               `json:"content"`
	Entities   []string             `json:"entities"`
	Topics     []string             `json:"topics"`
	Motifs     []string             `json:"motifs"`
	Tones      []string             `json:"tones"`
	Pathos     *engine.Pathos       `json:"pathos"`
	Context    map[string]string    `json:"context"`
	Embeddings map[string][]float64 `json:"embeddings" validate:"omitempty,dive,keys,required,endkeys"`
}

func (r sceneRequest) scene() engine.Scene {
	return engine.Scene{
		ID:         r.ID,
		Timestamp:  r.Timestamp,
		Title:      r.Title,
		Content:    r.Content,
		Entities:   r.Entities,
		Topics:     r.Topics,
		Motifs:     r.Motifs,
		Tones:      r.Tones,
		Pathos:     r.Pathos,
		Context:    r.Context,
		Embeddings: r.Embeddings,
	}
}

type edgeRequest struct {
	Source   string   `json:"source" validate:"required"`
	Target   string   `json:"target" validate:"required"`
	Relation string   `json:"relation" validate:"required"`
	Layer    string   `json:"layer" validate:"required"`
	Weight   *float64 `json:"weight" validate:"required,gte=0,lte=1"`
}

type recallRequest struct {
	QueryEmbedding []float64          `json:"query_embedding"`
	VibeEmbedding  []float64          `json:"vibe_embedding"`
	ContextHints   map[string]string  `json:"context_hints"`
	MotifHints     []string           `json:"motif_hints"`
	SeedCount      *int               `json:"seed_count" validate:"omitempty,min=1,max=100"`
	MaxBeats       *int               `json:"max_beats" validate:"omitempty,min=1"`
	BlendWeights   map[string]float64 `json:"blend_weights" validate:"omitempty,dive,keys,oneof=content emotion context motif,endkeys,gte=0"`
	LayerBias      []string           `json:"layer_bias" validate:"omitempty,dive,required"`
	AllowMoodJumps bool               `json:"allow_mood_jumps"`
	Seed           *int64             `json:"seed"`
}

type motifRequest struct {
	Name        string `json:"name" validate:"required,max=128"`
	Description string `json:"description" validate:"max=2000"`
}

type feedbackRequest struct {
	SceneID string   `json:"scene_id"`
	Rating  *float64 `json:"rating" validate:"required,gte=-1,lte=1"`
	Note    string   `json:"note" validate:"max=2000"`
}

// decode reads a JSON body into dst and runs struct validation. An empty
// body is only accepted when optional is set, leaving dst zero.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if !optional || !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid json")
			return false
		}
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func (s *Server) handleUpsertScene(w http.ResponseWriter, r *http.Request) {
	var req sceneRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	scene := req.scene()
	if err := scene.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.UpsertScene(&scene); err != nil {
		s.logger.Error("store scene", zap.String("scene_id", scene.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.walker.AddScene(scene); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.metrics.SetGraphSize(s.walker.Len(), len(s.walker.Edges()))
	s.logger.Info("scene upserted", zap.String("scene_id", scene.ID))

	writeJSON(w, http.StatusCreated, map[string]string{
		"status":   "ok",
		"scene_id": scene.ID,
	})
}

func (s *Server) handleGetScene(w http.ResponseWriter, r *http.Request) {
	sceneID := chi.URLParam(r, "sceneID")

	scene, err := s.db.GetScene(sceneID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if scene == nil {
		writeError(w, http.StatusNotFound, "scene not found")
		return
	}
	writeJSON(w, http.StatusOK, scene)
}

func (s *Server) handleAddEdge(w http.ResponseWriter, r *http.Request) {
	var req edgeRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	edge := engine.Edge{
		Source:   req.Source,
		Target:   req.Target,
		Relation: req.Relation,
		Layer:    req.Layer,
		Weight:   *req.Weight,
	}
	if err := edge.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.db.AddEdge(edge)
	if err != nil {
		s.logger.Error("store edge", zap.String("source", edge.Source), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.walker.AddEdge(edge); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.metrics.SetGraphSize(s.walker.Len(), len(s.walker.Edges()))

	writeJSON(w, http.StatusCreated, map[string]any{
		"status":  "ok",
		"edge_id": id,
	})
}

func (s *Server) handleStoryRecall(w http.ResponseWriter, r *http.Request) {
	var req recallRequest
	if !s.decode(w, r, &req, true) {
		return
	}

	defaults := s.recallDefaults()
	opts := engine.WalkOptions{
		QueryEmbedding: req.QueryEmbedding,
		VibeEmbedding:  req.VibeEmbedding,
		ContextHints:   req.ContextHints,
		MotifHints:     req.MotifHints,
		SeedCount:      defaults.SeedCount,
		MaxBeats:       defaults.MaxBeats,
		BlendWeights:   defaults.Blend,
		LayerBias:      defaults.LayerOrder,
		AllowMoodJumps: req.AllowMoodJumps,
	}
	if req.SeedCount != nil {
		opts.SeedCount = *req.SeedCount
	}
	if req.MaxBeats != nil {
		if *req.MaxBeats > defaults.MaxBeatsCap {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("max_beats: must be at most %d", defaults.MaxBeatsCap))
			return
		}
		opts.MaxBeats = *req.MaxBeats
	}
	if len(req.BlendWeights) > 0 {
		opts.BlendWeights = req.BlendWeights
	}
	if len(req.LayerBias) > 0 {
		opts.LayerBias = req.LayerBias
	}

	seed := time.Now().UnixNano()
	switch {
	case req.Seed != nil:
		seed = *req.Seed
	case defaults.RandSeed != 0:
		seed = defaults.RandSeed
	}
	opts.Rand = rand.New(rand.NewSource(seed))

	start := time.Now()
	s.mu.RLock()
	beats := s.walker.StoryWalk(opts)
	s.mu.RUnlock()
	s.metrics.ObserveRecall(time.Since(start), len(beats))

	s.logger.Debug("story recall",
		zap.Int("seed_count", opts.SeedCount),
		zap.Int("max_beats", opts.MaxBeats),
		zap.Int("beats", len(beats)),
		zap.Bool("allow_mood_jumps", opts.AllowMoodJumps),
	)

	writeJSON(w, http.StatusOK, map[string]any{"beats": beats})
}

func (s *Server) handleMotif(w http.ResponseWriter, r *http.Request) {
	var req motifRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	m, err := s.db.SaveMotif(strings.TrimSpace(req.Name), req.Description)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"id":     m.ID,
	})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	f := &store.Feedback{SceneID: req.SceneID, Rating: *req.Rating, Note: req.Note}
	if err := s.db.SaveFeedback(f); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"id":     f.ID,
	})
}
