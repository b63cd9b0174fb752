package handlers

import (
	"net/http"

	"github.com/bracketforge/tournament-engine/middleware"
	"github.com/bracketforge/tournament-engine/models"
	"github.com/bracketforge/tournament-engine/repositories"
	"github.com/bracketforge/tournament-engine/services"
)

type TournamentHandler struct {
	tournamentService *services.TournamentService
	advancerService   *services.AdvancerService
}

func NewTournamentHandler(tournamentService *services.TournamentService, advancerService *services.AdvancerService) *TournamentHandler {
	return &TournamentHandler{
		tournamentService: tournamentService,
		advancerService:   advancerService,
	}
}

type createTournamentRequest struct {
	Name            string  `json:"name"`
	Description     *string `json:"description"`
	Format          string  `json:"format"`
	SeedingStrategy string  `json:"seeding_strategy"`
	AutoConfirm     bool    `json:"auto_confirm"`
	MinParticipants int     `json:"min_participants"`
	MaxParticipants int     `json:"max_participants"`
}

func (h *TournamentHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, err.Error())
		return
	}

	var req createTournamentRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	tournament, err := h.tournamentService.CreateTournament(r.Context(), services.CreateTournamentParams{
		Name:            req.Name,
		Description:     req.Description,
		OrganizerID:     userID,
		Format:          models.TournamentFormat(req.Format),
		SeedingStrategy: models.SeedingStrategy(req.SeedingStrategy),
		AutoConfirm:     req.AutoConfirm,
		MinParticipants: req.MinParticipants,
		MaxParticipants: req.MaxParticipants,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, jsonResponse{"tournament": tournament}, nil)
}

func (h *TournamentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := readIDParam(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	tournament, err := h.tournamentService.GetTournament(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"tournament": tournament}, nil)
}

func (h *TournamentHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := repositories.ListTournamentsFilter{Limit: 50}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.TournamentStatus(raw)
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("format"); raw != "" {
		format := models.TournamentFormat(raw)
		filter.Format = &format
	}

	tournaments, err := h.tournamentService.ListTournaments(r.Context(), filter)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"tournaments": tournaments}, nil)
}

func (h *TournamentHandler) GetBracket(w http.ResponseWriter, r *http.Request) {
	id, err := readIDParam(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	bracket, err := h.tournamentService.GetBracket(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"bracket": bracket}, nil)
}

func (h *TournamentHandler) GetStandings(w http.ResponseWriter, r *http.Request) {
	id, err := readIDParam(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	standings, err := h.tournamentService.GetStandings(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"standings": standings}, nil)
}

func (h *TournamentHandler) OpenRegistration(w http.ResponseWriter, r *http.Request) {
	id, userID, ok := h.idAndUser(w, r)
	if !ok {
		return
	}
	tournament, err := h.tournamentService.OpenRegistration(r.Context(), id, userID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"tournament": tournament}, nil)
}

func (h *TournamentHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, userID, ok := h.idAndUser(w, r)
	if !ok {
		return
	}
	tournament, err := h.tournamentService.Start(r.Context(), id, userID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"tournament": tournament}, nil)
}

type cancelTournamentRequest struct {
	Reason string `json:"reason"`
}

func (h *TournamentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, userID, ok := h.idAndUser(w, r)
	if !ok {
		return
	}

	var req cancelTournamentRequest
	if r.ContentLength > 0 {
		if err := readJSON(w, r, &req); err != nil {
			badRequestResponse(w, r, err)
			return
		}
	}

	tournament, err := h.tournamentService.Cancel(r.Context(), id, userID, req.Reason)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"tournament": tournament}, nil)
}

// Advance lets the organizer nudge a tournament whose settled-match events
// were lost (a crash between settlement and propagation).
func (h *TournamentHandler) Advance(w http.ResponseWriter, r *http.Request) {
	id, userID, ok := h.idAndUser(w, r)
	if !ok {
		return
	}

	tournament, err := h.tournamentService.GetTournament(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if tournament.OrganizerID != userID {
		forbiddenResponse(w, r, services.ErrForbiddenOperation.Error())
		return
	}

	advanced, err := h.advancerService.TryAdvance(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"advanced": advanced}, nil)
}

func (h *TournamentHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id, userID, ok := h.idAndUser(w, r)
	if !ok {
		return
	}

	tournament, err := h.tournamentService.GetTournament(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if tournament.OrganizerID != userID {
		forbiddenResponse(w, r, services.ErrForbiddenOperation.Error())
		return
	}

	location, err := h.tournamentService.ArchiveBracket(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"location": location}, nil)
}

func (h *TournamentHandler) idAndUser(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	id, err := readIDParam(r, "tournamentID")
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
