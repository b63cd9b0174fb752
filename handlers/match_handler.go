package handlers

import (
	"net/http"

	"github.com/bracketforge/tournament-engine/middleware"
	"github.com/bracketforge/tournament-engine/models"
	"github.com/bracketforge/tournament-engine/repositories"
	"github.com/bracketforge/tournament-engine/services"
)

type MatchHandler struct {
	matchService   *services.MatchService
	sessionService *services.SessionService
}

func NewMatchHandler(matchService *services.MatchService, sessionService *services.SessionService) *MatchHandler {
	return &MatchHandler{matchService: matchService, sessionService: sessionService}
}

func (h *MatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := readIDParam(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	match, err := h.matchService.GetMatch(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil)
}

func (h *MatchHandler) ListByTournament(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := readIDParam(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	filter := repositories.ListMatchesFilter{}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.MatchStatus(raw)
		filter.Status = &status
	}

	matches, err := h.matchService.ListByTournament(r.Context(), tournamentID, filter)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"matches": matches}, nil)
}

func (h *MatchHandler) ListResults(w http.ResponseWriter, r *http.Request) {
	id, err := readIDParam(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	results, err := h.matchService.ListResults(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"results": results}, nil)
}

type reportResultRequest struct {
	WinnerSlot int     `json:"winner_slot"`
	Score      *string `json:"score"`
}

func (h *MatchHandler) ReportResult(w http.ResponseWriter, r *http.Request) {
	id, userID, ok := h.idAndUser(w, r)
	if !ok {
		return
	}

	var req reportResultRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	match, err := h.matchService.ReportResult(r.Context(), services.ReportResultParams{
		MatchID:    id,
		ReporterID: userID,
		WinnerSlot: req.WinnerSlot,
		Score:      req.Score,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil)
}

func (h *MatchHandler) ConfirmResult(w http.ResponseWriter, r *http.Request) {
	id, userID, ok := h.idAndUser(w, r)
	if !ok {
		return
	}

	match, err := h.matchService.ConfirmResult(r.Context(), services.ConfirmResultParams{
		MatchID:     id,
		ConfirmerID: userID,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil)
}

type voidMatchRequest struct {
	Reason string `json:"reason"`
}

func (h *MatchHandler) Void(w http.ResponseWriter, r *http.Request) {
	id, userID, ok := h.idAndUser(w, r)
	if !ok {
		return
	}

	var req voidMatchRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	match, err := h.matchService.VoidMatch(r.Context(), services.VoidMatchParams{
		MatchID:     id,
		OrganizerID: userID,
		Reason:      req.Reason,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil)
}

// BindSession provisions a game session for a scheduled match. Idempotent:
// repeating the call returns the session bound first.
func (h *MatchHandler) BindSession(w http.ResponseWriter, r *http.Request) {
	id, _, ok := h.idAndUser(w, r)
	if !ok {
		return
	}

	match, err := h.sessionService.BindSession(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil)
}

func (h *MatchHandler) idAndUser(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	id, err := readIDParam(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return 0, 0, false
	}
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, err.Error())
		return 0, 0, false
	}
	return id, userID, true
}
