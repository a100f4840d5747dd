/*
 * === This file is part of Polaris ===
 *
 * Copyright 2026 the Polaris authors.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package player runs a playlist of recipes one after the other.
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/p2o-lab/polaris-backend-sub002/common/event"
	"github.com/p2o-lab/polaris-backend-sub002/common/logger"
	"github.com/p2o-lab/polaris-backend-sub002/common/utils/uid"
	"github.com/p2o-lab/polaris-backend-sub002/core/recipe"
	"github.com/sirupsen/logrus"
)

var log = logger.New(logrus.StandardLogger(), "player")

type Status string

const (
	Idle      = Status("idle")
	Running   = Status("running")
	Paused    = Status("paused")
	Stopped   = Status("stopped")
	Completed = Status("completed")
)

// DefaultSettleDelay separates the end of a recipe from the start of the
// next one.
const DefaultSettleDelay = time.Second

var (
	ErrAlreadyRunning = errors.New("player already running")
	ErrNotRunning     = errors.New("player not running")
	ErrEmptyPlaylist  = errors.New("playlist is empty")
)

// Run records one execution of a playlist entry.
type Run struct {
	ID         uid.ID        `json:"id"`
	Index      int           `json:"index"`
	RecipeID   string        `json:"recipeId"`
	RecipeName string        `json:"recipeName"`
	Started    time.Time     `json:"started"`
	Ended      time.Time     `json:"ended"`
	Status     recipe.Status `json:"status"`
	Err        string        `json:"error,omitempty"`
}

type Options struct {
	Clock       clock.Clock
	SettleDelay time.Duration
	Emit        func(event.Event)
}

// cycle is the lifetime of one started playlist entry. Closing stop tells
// its watcher that the player moved on.
type cycle struct {
	recipe *recipe.Recipe
	run    int
	stop   chan struct{}
}

type Player struct {
	opts Options

	mu       sync.Mutex
	playlist []*recipe.Recipe
	index    int
	repeat   bool
	status   Status
	current  *cycle
	// pending is set when the settle delay ended while paused
	pending bool
	runs    []Run
}

func New(opts Options) *Player {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	return &Player{opts: opts, status: Idle}
}

func (p *Player) Add(r *recipe.Recipe) {
	p.mu.Lock()
	p.playlist = append(p.playlist, r)
	p.mu.Unlock()
	log.WithField("recipe", r.Name()).Debug("added to playlist")
}

// Remove drops the playlist entry at index. The entry being played cannot
// be removed.
func (p *Player) Remove(index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.playlist) {
		return fmt.Errorf("player: no playlist entry %d", index)
	}
	active := p.status == Running || p.status == Paused
	if active && index == p.index {
		return fmt.Errorf("player: entry %d is playing", index)
	}
	p.playlist = append(p.playlist[:index], p.playlist[index+1:]...)
	if index < p.index {
		p.index--
	}
	return nil
}

// Contains reports whether r is on the playlist.
func (p *Player) Contains(r *recipe.Recipe) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, entry := range p.playlist {
		if entry == r {
			return true
		}
	}
	return false
}

func (p *Player) Playlist() []*recipe.Recipe {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*recipe.Recipe(nil), p.playlist...)
}

// Repeat makes the player start over with the first entry instead of
// completing.
func (p *Player) Repeat(repeat bool) {
	p.mu.Lock()
	p.repeat = repeat
	p.mu.Unlock()
}

func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Player) CurrentIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}

// CurrentRun returns the run of the entry being played.
func (p *Player) CurrentRun() (Run, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return Run{}, false
	}
	return p.runs[p.current.run], true
}

func (p *Player) Runs() []Run {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Run(nil), p.runs...)
}

// Start plays the playlist from its first entry, or resumes every unit of
// the current recipe when paused.
func (p *Player) Start(ctx context.Context) error {
	p.mu.Lock()
	switch p.status {
	case Running:
		p.mu.Unlock()
		return ErrAlreadyRunning
	case Paused:
		p.mu.Unlock()
		return p.Resume(ctx)
	}
	if len(p.playlist) == 0 {
		p.mu.Unlock()
		return ErrEmptyPlaylist
	}
	p.index = 0
	p.pending = false
	p.status = Running
	p.mu.Unlock()

	log.Info("player started")
	return p.play(ctx)
}

// play starts the entry at the current index. It must be called while
// the player is running.
func (p *Player) play(ctx context.Context) error {
	p.mu.Lock()
	if p.index >= len(p.playlist) {
		p.mu.Unlock()
		return ErrEmptyPlaylist
	}
	r := p.playlist[p.index]
	run := Run{
		ID:         uid.New(),
		Index:      p.index,
		RecipeID:   r.ID().String(),
		RecipeName: r.Name(),
		Started:    p.opts.Clock.Now(),
		Status:     recipe.Running,
	}
	p.runs = append(p.runs, run)
	c := &cycle{recipe: r, run: len(p.runs) - 1, stop: make(chan struct{})}
	p.current = c
	p.mu.Unlock()

	if err := r.Start(ctx); err != nil {
		p.mu.Lock()
		p.endRun(c, recipe.Stopped, err)
		if p.current == c {
			p.status = Stopped
			p.current = nil
		}
		p.mu.Unlock()
		p.emit()
		return err
	}
	log.WithField("recipe", r.Name()).
		WithField("run", run.ID.String()).
		Info("playing recipe")
	p.emit()
	go p.watch(context.WithoutCancel(ctx), c)
	return nil
}

// watch follows a started entry to its end, waits out the settle delay
// and advances the playlist.
func (p *Player) watch(ctx context.Context, c *cycle) {
	select {
	case <-c.recipe.Done():
	case <-c.stop:
		return
	}

	status := c.recipe.Status()
	p.mu.Lock()
	if p.current != c {
		p.mu.Unlock()
		return
	}
	p.endRun(c, status, c.recipe.Err())
	if status != recipe.Completed {
		p.status = Stopped
		p.current = nil
		p.mu.Unlock()
		log.WithField("recipe", c.recipe.Name()).Warn("recipe did not complete, player stopped")
		p.emit()
		return
	}
	p.mu.Unlock()

	settle := p.opts.Clock.Timer(p.opts.SettleDelay)
	select {
	case <-settle.C:
	case <-c.stop:
		settle.Stop()
		return
	}

	p.mu.Lock()
	if p.current != c {
		p.mu.Unlock()
		return
	}
	if p.status == Paused {
		p.pending = true
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.advance(ctx)
}

func (p *Player) advance(ctx context.Context) {
	p.mu.Lock()
	p.index++
	if p.index >= len(p.playlist) {
		if !p.repeat || len(p.playlist) == 0 {
			p.status = Completed
			p.current = nil
			p.index = 0
			p.mu.Unlock()
			log.Info("playlist completed")
			p.emit()
			return
		}
		p.index = 0
	}
	p.mu.Unlock()

	if err := p.play(ctx); err != nil {
		log.WithError(err).Error("cannot play next recipe")
	}
}

// endRun must be called with mu held.
func (p *Player) endRun(c *cycle, status recipe.Status, err error) {
	run := &p.runs[c.run]
	if !run.Ended.IsZero() {
		return
	}
	run.Ended = p.opts.Clock.Now()
	run.Status = status
	if err != nil {
		run.Err = err.Error()
	}
}

// Pause pauses every unit used by the current recipe. The step state of
// the recipe is kept.
func (p *Player) Pause(ctx context.Context) error {
	p.mu.Lock()
	if p.status != Running {
		p.mu.Unlock()
		return ErrNotRunning
	}
	p.status = Paused
	c := p.current
	p.mu.Unlock()

	var err error
	if c != nil && c.recipe.Status() == recipe.Running {
		err = c.recipe.Pause(ctx)
	}
	log.Info("player paused")
	p.emit()
	return err
}

func (p *Player) Resume(ctx context.Context) error {
	p.mu.Lock()
	if p.status != Paused {
		p.mu.Unlock()
		return ErrNotRunning
	}
	p.status = Running
	c, pending := p.current, p.pending
	p.pending = false
	p.mu.Unlock()

	log.Info("player resumed")
	if pending {
		p.advance(ctx)
		return nil
	}
	var err error
	if c != nil && c.recipe.Status() == recipe.Paused {
		err = c.recipe.Resume(ctx)
	}
	p.emit()
	return err
}

// Stop stops the current recipe and the player.
func (p *Player) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.status != Running && p.status != Paused {
		p.mu.Unlock()
		return ErrNotRunning
	}
	p.status = Stopped
	c := p.current
	p.current = nil
	p.pending = false
	p.mu.Unlock()

	var err error
	if c != nil {
		close(c.stop)
		if st := c.recipe.Status(); st == recipe.Running || st == recipe.Paused {
			err = c.recipe.Stop(ctx)
		}
		p.mu.Lock()
		p.endRun(c, recipe.Stopped, err)
		p.mu.Unlock()
	}
	log.Info("player stopped")
	p.emit()
	return err
}

// Reset stops a playing player and rewinds it to the first entry.
func (p *Player) Reset(ctx context.Context) error {
	var err error
	if st := p.Status(); st == Running || st == Paused {
		err = p.Stop(ctx)
	}
	p.mu.Lock()
	p.status = Idle
	p.index = 0
	p.current = nil
	p.pending = false
	p.mu.Unlock()
	p.emit()
	return err
}

// ForceTransition forwards to the current recipe.
func (p *Player) ForceTransition(from, to string) error {
	p.mu.Lock()
	c := p.current
	p.mu.Unlock()
	if c == nil {
		return ErrNotRunning
	}
	return c.recipe.ForceTransition(from, to)
}

func (p *Player) emit() {
	if p.opts.Emit == nil {
		return
	}
	p.mu.Lock()
	runID := ""
	if p.current != nil {
		runID = p.runs[p.current.run].ID.String()
	}
	e := event.NewPlayerStatusChanged(string(p.status), p.index, runID)
	p.mu.Unlock()
	p.opts.Emit(e)
}
