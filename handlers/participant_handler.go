package handlers

import (
	"net/http"

	"github.com/bracketforge/tournament-engine/middleware"
	"github.com/bracketforge/tournament-engine/services"
)

type ParticipantHandler struct {
	registry          *services.RegistryService
	tournamentService *services.TournamentService
}

func NewParticipantHandler(registry *services.RegistryService, tournamentService *services.TournamentService) *ParticipantHandler {
	return &ParticipantHandler{registry: registry, tournamentService: tournamentService}
}

type registerParticipantRequest struct {
	Seed *int `json:"seed"`
}

// Register enrolls the authenticated user as an entrant. An optional seed
// is honored when the tournament uses rank seeding.
func (h *ParticipantHandler) Register(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := readIDParam(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, err.Error())
		return
	}

	var req registerParticipantRequest
	if r.ContentLength > 0 {
		if err := readJSON(w, r, &req); err != nil {
			badRequestResponse(w, r, err)
			return
		}
	}

	participant, err := h.registry.Register(r.Context(), services.RegisterParams{
		TournamentID: tournamentID,
		EntrantID:    userID,
		Seed:         req.Seed,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, jsonResponse{"participant": participant}, nil)
}

func (h *ParticipantHandler) List(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := readIDParam(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	participants, err := h.registry.ListParticipants(r.Context(), tournamentID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"participants": participants}, nil)
}

// Withdraw removes a participant from play. Participants may withdraw
// themselves; the organizer may withdraw anyone.
func (h *ParticipantHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := readIDParam(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	participantID, err := readIDParam(r, "participantID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, err.Error())
		return
	}

	participant, err := h.registry.GetParticipant(r.Context(), participantID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if participant.EntrantID != userID {
		tournament, err := h.tournamentService.GetTournament(r.Context(), tournamentID)
		if err != nil {
			mapServiceErrorToHTTP(w, r, err)
			return
		}
		if tournament.OrganizerID != userID {
			forbiddenResponse(w, r, services.ErrForbiddenOperation.Error())
			return
		}
	}

	if err := h.registry.Withdraw(r.Context(), tournamentID, participantID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"message": "participant withdrawn"}, nil)
}
