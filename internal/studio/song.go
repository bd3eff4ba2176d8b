package studio

import (
	"context"
	"fmt"

	"github.com/hyperengineering/looper/internal/model"
	loopsync "github.com/hyperengineering/looper/internal/sync"
)

// Song returns the song state as served by GET /api/song. The transport
// position is in seconds since the transport last started.
func (s *Studio) Song() loopsync.SongState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return loopsync.SongState{
		TransportPosition: s.now().Sub(s.song.TransportEpoch).Seconds(),
		LoopLength:        s.song.LoopLength,
	}
}

// PatchSong changes the loop length. Both loop_length and beats are
// required.
func (s *Studio) PatchSong(ctx context.Context, clientID string, patch model.SongPatch) error {
	loopLength, ok := patch.LoopLength.Get()
	if !ok {
		return fmt.Errorf("loop_length: %w", ErrInvalid)
	}
	beats, ok := patch.Beats.Get()
	if !ok {
		return fmt.Errorf("beats: %w", ErrInvalid)
	}
	if loopLength <= 0 || beats <= 0 {
		return fmt.Errorf("loop_length %v, beats %d must be positive: %w", loopLength, beats, ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.song.LoopLength = loopLength
	s.song.Beats = beats
	return s.publish(ctx, clientID, loopsync.Action{Song: &loopsync.SongDelta{
		LoopLength: model.Some(loopLength),
	}})
}

// RestartTransport moves the transport back to zero.
func (s *Studio) RestartTransport(ctx context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.song.TransportEpoch = now
	return s.publish(ctx, clientID, loopsync.Action{Song: &loopsync.SongDelta{
		SongPosition:      model.Some(now.Sub(s.started).Seconds()),
		TransportPosition: model.Some(0.0),
	}})
}

// Timestamp publishes the current song and transport positions so clients
// can correct their clock offset.
func (s *Studio) Timestamp(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	return s.publish(ctx, "", loopsync.Action{Song: &loopsync.SongDelta{
		SongPosition:      model.Some(now.Sub(s.started).Seconds()),
		TransportPosition: model.Some(now.Sub(s.song.TransportEpoch).Seconds()),
	}})
}

// FinishRecording marks a take finished. Its playback starts at the current
// transport position. Finishing a finished take changes nothing.
func (s *Studio) FinishRecording(ctx context.Context, clientID string, synthID, chainID, takeID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, c, err := s.lookupChain(synthID, chainID)
	if err != nil {
		return err
	}
	t := c.Take(takeID)
	if t == nil {
		return fmt.Errorf("take %d/%d/%d: %w", synthID, chainID, takeID, ErrNotFound)
	}
	if t.State == model.StateFinished {
		return nil
	}

	since := s.now().Sub(s.song.TransportEpoch).Seconds()
	duration := s.song.LoopLength
	t.State = model.StateFinished
	t.PlayingSince = &since
	t.Duration = &duration

	return s.publish(ctx, clientID, synthsAction(takeUpdate(synthID, chainID, t)))
}
