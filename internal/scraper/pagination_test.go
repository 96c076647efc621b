package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fetchlab/harvester/internal/browser"
	"github.com/fetchlab/harvester/internal/taskconfig"
)

// fakeDriver serves scripted element states keyed by selector, switchable
// per page.
type fakeDriver struct {
	states   []map[string]browser.ElementState
	page     int
	clicks   int
	clickErr error
}

func (d *fakeDriver) QueryElement(ctx context.Context, selector string) (browser.ElementState, error) {
	return d.states[d.page][selector], nil
}

func (d *fakeDriver) Click(ctx context.Context, selector string) error {
	if d.clickErr != nil {
		return d.clickErr
	}
	d.clicks++
	if d.page < len(d.states)-1 {
		d.page++
	}
	return nil
}

func (d *fakeDriver) Sleep(ctx context.Context, dur time.Duration) {}

func (d *fakeDriver) WaitNetworkIdle(ctx context.Context, b time.Duration) bool { return true }

func enabledNext() browser.ElementState {
	return browser.ElementState{Exists: true, Visible: true}
}

func TestPaginator_DisabledNeverAdvances(t *testing.T) {
	driver := &fakeDriver{states: []map[string]browser.ElementState{{".next": enabledNext()}}}
	p := NewPaginator(taskconfig.PaginationSpec{Enabled: false, NextSelector: ".next", MaxPages: 10}, driver, zerolog.Nop())

	if p.HasNext(context.Background()) {
		t.Error("HasNext() = true with pagination disabled")
	}
}

func TestPaginator_StopsAtMaxPages(t *testing.T) {
	states := make([]map[string]browser.ElementState, 5)
	for i := range states {
		states[i] = map[string]browser.ElementState{".next": enabledNext()}
	}
	driver := &fakeDriver{states: states}
	p := NewPaginator(taskconfig.PaginationSpec{Enabled: true, NextSelector: ".next", MaxPages: 3, WaitAfterClick: 1}, driver, zerolog.Nop())

	ctx := context.Background()
	pages := 1
	for p.HasNext(ctx) {
		if err := p.Advance(ctx); err != nil {
			t.Fatalf("Advance() returned error: %v", err)
		}
		pages++
	}

	if pages != 3 {
		t.Errorf("visited %d pages, want 3", pages)
	}
	if driver.clicks != 2 {
		t.Errorf("clicks = %d, want 2", driver.clicks)
	}
}

func TestPaginator_StopCondition(t *testing.T) {
	driver := &fakeDriver{states: []map[string]browser.ElementState{{
		".next":      enabledNext(),
		".last-page": {Exists: true, Visible: true},
	}}}
	spec := taskconfig.PaginationSpec{Enabled: true, NextSelector: ".next", StopCondition: ".last-page", MaxPages: 10}
	p := NewPaginator(spec, driver, zerolog.Nop())

	if p.HasNext(context.Background()) {
		t.Error("HasNext() = true despite stop condition present")
	}
}

func TestPaginator_NextControlMustBeUsable(t *testing.T) {
	cases := []struct {
		name  string
		state browser.ElementState
	}{
		{"missing", browser.ElementState{}},
		{"hidden", browser.ElementState{Exists: true, Visible: false}},
		{"disabled", browser.ElementState{Exists: true, Visible: true, Disabled: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			driver := &fakeDriver{states: []map[string]browser.ElementState{{".next": tc.state}}}
			p := NewPaginator(taskconfig.PaginationSpec{Enabled: true, NextSelector: ".next", MaxPages: 10}, driver, zerolog.Nop())
			if p.HasNext(context.Background()) {
				t.Errorf("HasNext() = true for %s next control", tc.name)
			}
		})
	}
}

func TestPaginator_AdvancePropagatesClickError(t *testing.T) {
	driver := &fakeDriver{
		states:   []map[string]browser.ElementState{{".next": enabledNext()}},
		clickErr: errors.New("node detached"),
	}
	p := NewPaginator(taskconfig.PaginationSpec{Enabled: true, NextSelector: ".next", MaxPages: 10}, driver, zerolog.Nop())

	if err := p.Advance(context.Background()); err == nil {
		t.Error("Advance() = nil, want click error")
	}
	if p.Page() != 1 {
		t.Errorf("Page() = %d after failed advance, want 1", p.Page())
	}
}
