package services

import (
	"time"

	"github.com/gin-gonic/gin"

	"songline/models"
	"songline/rules"
)

// startRound draws the next song and waits in listening for the scan. An
// empty pool ends the game on the current standings.
func (s *RoomSession) startRound(st *models.GameState) error {
	if len(st.SongPool) == 0 {
		return s.finishOnStandings(st, "song_pool_exhausted")
	}

	song := st.SongPool[0]
	st.SongPool = st.SongPool[1:]
	st.RoundsPlayed++
	now := s.now()

	st.CurrentRound = &models.Round{
		Number:     st.RoundsPlayed,
		Song:       song,
		ActiveTeam: rules.ActiveTeamForRound(st.RoundsPlayed),
		StartedAt:  now,
		EndsAt:     rules.PhaseDeadline(models.PhaseListening, st.Settings, now),
		Payload:    models.ListeningPayload{},
	}
	s.announcePhase(st)
	s.log.Info().Int("round", st.RoundsPlayed).Str("activeTeam", string(st.CurrentRound.ActiveTeam)).Msg("round started")
	return nil
}

// enterPhase swaps in the payload of the next phase and restarts its clock.
func (s *RoomSession) enterPhase(st *models.GameState, payload models.PhasePayload) {
	round := st.CurrentRound
	now := s.now()
	round.Payload = payload
	round.StartedAt = now
	round.EndsAt = rules.PhaseDeadline(payload.Phase(), st.Settings, now)
	s.announcePhase(st)
}

func (s *RoomSession) announcePhase(st *models.GameState) {
	round := st.CurrentRound
	phase := round.Phase()
	s.resetVotes(alarmKey{round: round.Number, phase: phase})
	s.broadcast(MsgPhaseChanged, gin.H{
		"round":      round.Number,
		"phase":      phase,
		"activeTeam": round.ActiveTeam,
		"actingTeam": rules.ActingTeam(phase, round.ActiveTeam),
		"startedAt":  round.StartedAt,
		"endsAt":     round.EndsAt,
	})
	s.broadcastState()
}

// requirePhase returns the current round when it is in phase.
func requirePhase(st *models.GameState, phase models.Phase) (*models.Round, error) {
	if st.Status != models.StatusPlaying || st.CurrentRound == nil || st.Tiebreaker != nil {
		return nil, ErrWrongPhase.Withf("no round in progress")
	}
	if current := st.CurrentRound.Phase(); current != phase {
		return nil, ErrWrongPhase.Withf("expected phase %s, round is in %s", phase, current)
	}
	return st.CurrentRound, nil
}

// requireLeader checks that the caller leads the team acting in this phase.
func (s *RoomSession) requireLeader(st *models.GameState, conn Connection, team models.TeamID) (*models.Player, error) {
	player, err := s.playerFor(st, conn)
	if err != nil {
		return nil, err
	}
	if player.Team != team {
		return nil, ErrUnauthorized.Withf("it is team %s's turn", team)
	}
	if !player.IsTeamLeader {
		return nil, ErrNotTeamLeader
	}
	return player, nil
}

// SongScanned starts the quiz clock once the round's song has been found.
func (s *RoomSession) SongScanned(conn Connection) error {
	return s.mutate(func(st *models.GameState) error {
		round, err := requirePhase(st, models.PhaseListening)
		if err != nil {
			return err
		}
		if conn.Role() != RoleHost {
			player, err := s.playerFor(st, conn)
			if err != nil {
				return err
			}
			if player.Team != round.ActiveTeam {
				return ErrUnauthorized.Withf("it is team %s's turn", round.ActiveTeam)
			}
		}

		pool := make([]models.Song, 0, len(st.SongPool)+len(st.PlayedSongs))
		pool = append(pool, st.SongPool...)
		pool = append(pool, st.PlayedSongs...)
		options := rules.GenerateQuizOptions(round.Song, pool, s.rng)

		s.enterPhase(st, models.QuizPayload{QuizOptions: options})
		return nil
	})
}

func (s *RoomSession) SubmitQuiz(conn Connection, answer AnswerPayload) error {
	return s.mutate(func(st *models.GameState) error {
		round, err := requirePhase(st, models.PhaseQuiz)
		if err != nil {
			return err
		}
		if _, err := s.requireLeader(st, conn, round.ActiveTeam); err != nil {
			return err
		}
		result := rules.ValidateAnswer(round.Song, answer.Artist, answer.Title, answer.Year)
		s.resolveQuiz(st, models.QuizAnswer{
			Team:        round.ActiveTeam,
			Artist:      answer.Artist,
			Title:       answer.Title,
			Year:        answer.Year,
			Result:      result,
			Correct:     result.Correct(),
			SubmittedAt: s.now(),
		})
		return nil
	})
}

// resolveQuiz records the claimed answer and moves on to placement. Its
// correctness stays private until reveal.
func (s *RoomSession) resolveQuiz(st *models.GameState, answer models.QuizAnswer) {
	s.broadcast(MsgQuizResult, newClaimView(answer))
	s.enterPhase(st, models.PlacementPayload{QuizAnswer: answer})
}

func (s *RoomSession) SubmitPlacement(conn Connection, position int) error {
	return s.mutate(func(st *models.GameState) error {
		round, err := requirePhase(st, models.PhasePlacement)
		if err != nil {
			return err
		}
		if _, err := s.requireLeader(st, conn, round.ActiveTeam); err != nil {
			return err
		}
		if position > len(st.Team(round.ActiveTeam).Timeline) {
			return ErrInvalidPosition
		}
		payload := round.Payload.(models.PlacementPayload)
		s.resolvePlacement(st, payload.QuizAnswer, models.Placement{
			Team:        round.ActiveTeam,
			Position:    position,
			SubmittedAt: s.now(),
		})
		return nil
	})
}

func (s *RoomSession) resolvePlacement(st *models.GameState, answer models.QuizAnswer, placement models.Placement) {
	round := st.CurrentRound
	opponent := st.Team(round.ActiveTeam.Opponent())

	s.broadcast(MsgPlacementSubmitted, gin.H{
		"team":     placement.Team,
		"position": placement.Position,
		"timedOut": placement.TimedOut,
	})
	s.enterPhase(st, models.VetoWindowPayload{QuizAnswer: answer, Placement: placement})
	s.broadcast(MsgVetoWindowOpen, gin.H{
		"team":   opponent.ID,
		"tokens": opponent.Tokens,
		"endsAt": round.EndsAt,
	})
}

// UseVeto spends a token to challenge one field of the claimed answer.
func (s *RoomSession) UseVeto(conn Connection, field models.VetoField) error {
	return s.mutate(func(st *models.GameState) error {
		round, err := requirePhase(st, models.PhaseVetoWindow)
		if err != nil {
			return err
		}
		challenger := round.ActiveTeam.Opponent()
		if _, err := s.requireLeader(st, conn, challenger); err != nil {
			return err
		}
		team := st.Team(challenger)
		if team.Tokens < 1 {
			return ErrNoTokens
		}

		payload := round.Payload.(models.VetoWindowPayload)
		if payload.QuizAnswer.TimedOut {
			return ErrWrongPhase.Withf("no answer was claimed this round")
		}
		resolution, err := rules.ResolveVeto(round.Song, payload.QuizAnswer, field)
		if err != nil {
			return ErrMalformedPayload.Withf("%v", err)
		}
		team.Tokens--

		s.resolveVetoWindow(st, payload, models.VetoDecision{
			Team:       challenger,
			Used:       true,
			Field:      field,
			Successful: resolution.VetoSuccessful,
			DecidedAt:  s.now(),
		})
		return nil
	})
}

func (s *RoomSession) PassVeto(conn Connection) error {
	return s.mutate(func(st *models.GameState) error {
		round, err := requirePhase(st, models.PhaseVetoWindow)
		if err != nil {
			return err
		}
		challenger := round.ActiveTeam.Opponent()
		if _, err := s.requireLeader(st, conn, challenger); err != nil {
			return err
		}
		payload := round.Payload.(models.VetoWindowPayload)
		s.resolveVetoWindow(st, payload, models.VetoDecision{Team: challenger, DecidedAt: s.now()})
		return nil
	})
}

// resolveVetoWindow branches on whether a token was spent. The veto's
// outcome is kept back until reveal.
func (s *RoomSession) resolveVetoWindow(st *models.GameState, window models.VetoWindowPayload, decision models.VetoDecision) {
	s.broadcast(MsgVetoDecision, gin.H{
		"team":     decision.Team,
		"used":     decision.Used,
		"field":    decision.Field,
		"timedOut": decision.TimedOut,
	})

	next, _ := rules.NextPhase(models.PhaseVetoWindow, decision.Used)
	if next == models.PhaseVetoPlacement {
		s.enterPhase(st, models.VetoPlacementPayload{
			QuizAnswer:   window.QuizAnswer,
			Placement:    window.Placement,
			VetoDecision: decision,
		})
		return
	}
	s.reveal(st, window.QuizAnswer, window.Placement, decision, nil)
}

func (s *RoomSession) SubmitVetoPlacement(conn Connection, position int) error {
	return s.mutate(func(st *models.GameState) error {
		round, err := requirePhase(st, models.PhaseVetoPlacement)
		if err != nil {
			return err
		}
		challenger := round.ActiveTeam.Opponent()
		if _, err := s.requireLeader(st, conn, challenger); err != nil {
			return err
		}
		if position > len(st.Team(challenger).Timeline) {
			return ErrInvalidPosition
		}
		payload := round.Payload.(models.VetoPlacementPayload)
		placement := models.Placement{Team: challenger, Position: position, SubmittedAt: s.now()}
		s.reveal(st, payload.QuizAnswer, payload.Placement, payload.VetoDecision, &placement)
		return nil
	})
}

// reveal settles the round: the song goes to whoever earned it, the pool
// bookkeeping is updated and the win condition is checked.
func (s *RoomSession) reveal(st *models.GameState, answer models.QuizAnswer, placement models.Placement, decision models.VetoDecision, vetoPlacement *models.Placement) {
	round := st.CurrentRound
	active := st.Team(round.ActiveTeam)
	opponent := st.Team(round.ActiveTeam.Opponent())
	now := s.now()

	outcome := rules.ResolveRound(rules.RoundInput{
		Song:             round.Song,
		ActiveTeam:       round.ActiveTeam,
		ActiveTimeline:   active.Timeline,
		OpponentTimeline: opponent.Timeline,
		Quiz:             answer,
		Placement:        placement,
		Veto:             decision,
		VetoPlacement:    vetoPlacement,
	})
	if err := rules.AwardSong(st.Teams, outcome, round.Song, now); err != nil {
		s.log.Error().Err(err).Int("round", round.Number).Msg("song could not be awarded")
		outcome.ScoringTeam = ""
		outcome.Stolen = false
		outcome.PointsEarned = 0
	}
	if answer.Correct && active.Tokens < MaxVetoTokens {
		active.Tokens++
	}
	st.PlayedSongs = append(st.PlayedSongs, round.Song)

	s.enterPhase(st, models.RevealPayload{
		QuizAnswer:    answer,
		Placement:     placement,
		VetoDecision:  decision,
		VetoPlacement: vetoPlacement,
		Outcome:       outcome,
	})
	s.broadcast(MsgNewRoundResult, gin.H{
		"round":         round.Number,
		"song":          round.Song,
		"quizAnswer":    answer,
		"placement":     placement,
		"vetoDecision":  decision,
		"vetoPlacement": vetoPlacement,
		"outcome":       outcome,
		"scores":        scores(st),
	})
	s.log.Info().Int("round", round.Number).Str("scoringTeam", string(outcome.ScoringTeam)).
		Bool("stolen", outcome.Stolen).Msg("round revealed")

	win := rules.CheckWinner(st.Team(models.TeamA).Score(), st.Team(models.TeamB).Score(), st.Settings.TargetScore)
	switch {
	case win.HasWinner:
		s.declareWinner(st, win.Winner, "target_reached")
	case win.IsTie:
		s.startTiebreaker(st, 1)
	}
}

func scores(st *models.GameState) gin.H {
	return gin.H{
		string(models.TeamA): st.Team(models.TeamA).Score(),
		string(models.TeamB): st.Team(models.TeamB).Score(),
	}
}

func (s *RoomSession) declareWinner(st *models.GameState, winner models.TeamID, reason string) {
	st.Winner = winner
	st.Tiebreaker = nil
	if err := rules.TransitionStatus(st, models.StatusFinished); err != nil {
		s.log.Error().Err(err).Msg("could not finish game")
		return
	}
	payload := gin.H{"winner": winner, "scores": scores(st), "reason": reason}
	s.broadcast(MsgGameWon, payload)
	s.broadcastState()
	s.recordEvent(eventGameWon, payload)
	s.log.Info().Str("winner", string(winner)).Str("reason", reason).Msg("game won")
}

// finishOnStandings ends the game when no songs are left. Equal scores
// finish without a winner.
func (s *RoomSession) finishOnStandings(st *models.GameState, reason string) error {
	result := rules.FinalStandings(st.Team(models.TeamA).Score(), st.Team(models.TeamB).Score())
	st.Winner = result.Winner
	st.Tiebreaker = nil
	if err := rules.TransitionStatus(st, models.StatusFinished); err != nil {
		return err
	}
	payload := gin.H{"winner": result.Winner, "hasWinner": result.HasWinner, "scores": scores(st), "reason": reason}
	s.broadcast(MsgGameFinished, payload)
	s.broadcastState()
	s.recordEvent(eventGameOver, payload)
	s.log.Info().Str("winner", string(result.Winner)).Str("reason", reason).Msg("game finished")
	return nil
}

// NextRound is the host's explicit advance out of reveal.
func (s *RoomSession) NextRound(conn Connection) error {
	if err := requireHost(conn); err != nil {
		return err
	}
	return s.mutate(func(st *models.GameState) error {
		if _, err := requirePhase(st, models.PhaseReveal); err != nil {
			return err
		}
		return s.startRound(st)
	})
}

// startTiebreaker opens a sudden-death attempt on the next song.
func (s *RoomSession) startTiebreaker(st *models.GameState, attempt int) {
	if len(st.SongPool) == 0 {
		if err := s.finishOnStandings(st, "tiebreaker_exhausted"); err != nil {
			s.log.Error().Err(err).Msg("could not finish game")
		}
		return
	}
	song := st.SongPool[0]
	st.SongPool = st.SongPool[1:]
	now := s.now()
	st.Tiebreaker = &models.Tiebreaker{
		Attempt:     attempt,
		Song:        song,
		StartedAt:   now,
		EndsAt:      now.Add(tiebreakerDuration(st.Settings)),
		Submissions: []models.TiebreakerSubmission{},
	}
	s.broadcast(MsgTiebreakerStarted, gin.H{"attempt": attempt, "startedAt": now, "endsAt": st.Tiebreaker.EndsAt})
	s.broadcastState()
	s.log.Info().Int("attempt", attempt).Msg("tiebreaker started")
}

// SubmitTiebreaker takes one answer per team leader. The first correct
// answer wins; otherwise the attempt ends when both teams answered or time
// runs out.
func (s *RoomSession) SubmitTiebreaker(conn Connection, answer AnswerPayload) error {
	return s.mutate(func(st *models.GameState) error {
		tb := st.Tiebreaker
		if st.Status != models.StatusPlaying || tb == nil {
			return ErrWrongPhase.Withf("no tiebreaker in progress")
		}
		player, err := s.playerFor(st, conn)
		if err != nil {
			return err
		}
		if !player.IsTeamLeader {
			return ErrNotTeamLeader
		}
		if tb.Submitted(player.Team) {
			return ErrWrongPhase.Withf("team %s already answered", player.Team)
		}

		result := rules.ValidateAnswer(tb.Song, answer.Artist, answer.Title, answer.Year)
		tb.Submissions = append(tb.Submissions, models.TiebreakerSubmission{
			Team:        player.Team,
			Artist:      answer.Artist,
			Title:       answer.Title,
			Year:        answer.Year,
			Correct:     result.Correct(),
			SubmittedAt: s.now(),
		})

		if result.Correct() || len(tb.Submissions) == len(models.TeamIDs) {
			s.resolveTiebreaker(st)
			return nil
		}
		s.broadcast(MsgTiebreakerResult, gin.H{"attempt": tb.Attempt, "submitted": player.Team, "resolved": false})
		return nil
	})
}

func (s *RoomSession) resolveTiebreaker(st *models.GameState) {
	tb := st.Tiebreaker
	winner, ok := rules.ResolveTiebreaker(tb.Submissions)
	st.PlayedSongs = append(st.PlayedSongs, tb.Song)

	s.broadcast(MsgTiebreakerResult, gin.H{
		"attempt":     tb.Attempt,
		"song":        tb.Song,
		"submissions": tb.Submissions,
		"winner":      winner,
		"hasWinner":   ok,
		"resolved":    true,
	})
	if ok {
		s.declareWinner(st, winner, "tiebreaker")
		return
	}
	st.Tiebreaker = nil
	s.startTiebreaker(st, tb.Attempt+1)
}

func tiebreakerDuration(settings models.Settings) time.Duration {
	return time.Duration(settings.TiebreakerSeconds) * time.Second
}

// handleTimeout runs the transition the missing action would have, with a
// payload recording that nothing happened.
func (s *RoomSession) handleTimeout(st *models.GameState, key alarmKey) error {
	now := s.now()
	if key.tiebreaker {
		s.log.Info().Int("attempt", key.attempt).Msg("tiebreaker timed out")
		s.resolveTiebreaker(st)
		return nil
	}

	round := st.CurrentRound
	s.log.Info().Int("round", round.Number).Str("phase", string(key.phase)).Msg("phase timed out")
	switch payload := round.Payload.(type) {
	case models.QuizPayload:
		s.resolveQuiz(st, models.QuizAnswer{
			Team:        round.ActiveTeam,
			Correct:     false,
			TimedOut:    true,
			SubmittedAt: now,
		})
	case models.PlacementPayload:
		s.resolvePlacement(st, payload.QuizAnswer, models.Placement{
			Team:        round.ActiveTeam,
			Position:    -1,
			TimedOut:    true,
			SubmittedAt: now,
		})
	case models.VetoWindowPayload:
		s.resolveVetoWindow(st, payload, models.VetoDecision{
			Team:      round.ActiveTeam.Opponent(),
			TimedOut:  true,
			DecidedAt: now,
		})
	case models.VetoPlacementPayload:
		placement := models.Placement{
			Team:        round.ActiveTeam.Opponent(),
			Position:    -1,
			TimedOut:    true,
			SubmittedAt: now,
		}
		s.reveal(st, payload.QuizAnswer, payload.Placement, payload.VetoDecision, &placement)
	default:
		return errNoChange
	}
	return nil
}

// suggest forwards a teammate's non-binding vote to its team leader. Votes
// live only in memory and are cleared whenever a phase is entered.
func (s *RoomSession) suggest(conn Connection, phase models.Phase, msgType string, suggestion interface{}) error {
	if s.state == nil {
		return ErrNotInitialized
	}
	st := s.state
	round, err := requirePhase(st, phase)
	if err != nil && phase == models.PhasePlacement {
		round, err = requirePhase(st, models.PhaseVetoPlacement)
	}
	if err != nil {
		return err
	}
	player, err := s.playerFor(st, conn)
	if err != nil {
		return err
	}
	acting := rules.ActingTeam(round.Phase(), round.ActiveTeam)
	if player.Team != acting {
		return ErrUnauthorized.Withf("it is team %s's turn", acting)
	}

	key := alarmKey{round: round.Number, phase: round.Phase()}
	if s.votesFor != key {
		s.resetVotes(key)
	}
	s.votes[player.SessionID] = vote{PlayerID: player.ID, Name: player.Name, Suggestion: suggestion}

	votes := make([]vote, 0, len(s.votes))
	for _, v := range s.votes {
		votes = append(votes, v)
	}
	leader := st.Team(acting).Leader()
	if leader == nil {
		return nil
	}
	payload := gin.H{"playerId": player.ID, "name": player.Name, "suggestion": suggestion, "votes": votes}
	for _, info := range s.hub.Connections(s.roomID) {
		if info.SessionID == leader.SessionID {
			s.deliver(info.Conn, Message{Type: msgType, Payload: payload})
		}
	}
	return nil
}
