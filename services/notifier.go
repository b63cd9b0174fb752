package services

import (
	"strconv"

	"github.com/bracketforge/tournament-engine/brackets"
	"github.com/bracketforge/tournament-engine/models"
)

// Notifier pushes bracket progress to live watchers. Implementations must
// not block: notification is best-effort and never part of a transaction.
type Notifier interface {
	MatchReady(tournamentID int, match *models.Match)
	MatchUpdated(tournamentID int, match *models.Match)
	RoundAdvanced(tournamentID, round int)
	TournamentCompleted(tournamentID int, winnerParticipantID *int)
	TournamentCancelled(tournamentID int)
}

type hubNotifier struct {
	hub *brackets.Hub
}

func NewHubNotifier(hub *brackets.Hub) Notifier {
	return &hubNotifier{hub: hub}
}

func (n *hubNotifier) room(tournamentID int) string {
	return strconv.Itoa(tournamentID)
}

func (n *hubNotifier) MatchReady(tournamentID int, match *models.Match) {
	n.hub.BroadcastToRoom(n.room(tournamentID), brackets.WebSocketMessage{
		Type:    brackets.EventMatchReady,
		Payload: match,
		RoomID:  n.room(tournamentID),
	})
}

func (n *hubNotifier) MatchUpdated(tournamentID int, match *models.Match) {
	n.hub.BroadcastToRoom(n.room(tournamentID), brackets.WebSocketMessage{
		Type:    brackets.EventMatchUpdated,
		Payload: match,
		RoomID:  n.room(tournamentID),
	})
}

func (n *hubNotifier) RoundAdvanced(tournamentID, round int) {
	n.hub.BroadcastToRoom(n.room(tournamentID), brackets.WebSocketMessage{
		Type:    brackets.EventRoundAdvanced,
		Payload: map[string]int{"tournament_id": tournamentID, "round": round},
		RoomID:  n.room(tournamentID),
	})
}

func (n *hubNotifier) TournamentCompleted(tournamentID int, winnerParticipantID *int) {
	payload := map[string]interface{}{"tournament_id": tournamentID}
	if winnerParticipantID != nil {
		payload["winner_participant_id"] = *winnerParticipantID
	}
	n.hub.BroadcastToRoom(n.room(tournamentID), brackets.WebSocketMessage{
		Type:    brackets.EventTournamentCompleted,
		Payload: payload,
		RoomID:  n.room(tournamentID),
	})
}

func (n *hubNotifier) TournamentCancelled(tournamentID int) {
	n.hub.BroadcastToRoom(n.room(tournamentID), brackets.WebSocketMessage{
		Type:    brackets.EventTournamentCancelled,
		Payload: map[string]int{"tournament_id": tournamentID},
		RoomID:  n.room(tournamentID),
	})
}

// NoopNotifier is used when no hub is wired (tests, batch tools).
type NoopNotifier struct{}

func (NoopNotifier) MatchReady(int, *models.Match)      {}
func (NoopNotifier) MatchUpdated(int, *models.Match)    {}
func (NoopNotifier) RoundAdvanced(int, int)             {}
func (NoopNotifier) TournamentCompleted(int, *int)      {}
func (NoopNotifier) TournamentCancelled(tournament int) {}
