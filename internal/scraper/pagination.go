package scraper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fetchlab/harvester/internal/browser"
	"github.com/fetchlab/harvester/internal/taskconfig"
)

// pageSettleBound caps how long Advance waits for the network to go quiet
// after clicking the next button.
const pageSettleBound = 10 * time.Second

// PageDriver is the slice of a browser session pagination needs.
type PageDriver interface {
	QueryElement(ctx context.Context, selector string) (browser.ElementState, error)
	Click(ctx context.Context, selector string) error
	Sleep(ctx context.Context, d time.Duration)
	WaitNetworkIdle(ctx context.Context, bound time.Duration) bool
}

// Paginator walks next-button pagination within one browser session. Page
// numbering is 1-based; the first page is on screen before the paginator is
// consulted.
type Paginator struct {
	spec   taskconfig.PaginationSpec
	driver PageDriver
	log    zerolog.Logger
	page   int
}

func NewPaginator(spec taskconfig.PaginationSpec, driver PageDriver, log zerolog.Logger) *Paginator {
	return &Paginator{
		spec:   spec,
		driver: driver,
		log:    log.With().Str("component", "paginator").Logger(),
		page:   1,
	}
}

// Page returns the 1-based number of the page currently on screen.
func (p *Paginator) Page() int {
	return p.page
}

// HasNext reports whether another page should be visited: pagination is
// enabled, the page cap is not reached, the stop condition (when set) is
// absent, and the next control is present, visible and enabled.
func (p *Paginator) HasNext(ctx context.Context) bool {
	if !p.spec.Enabled {
		return false
	}
	if p.page >= p.spec.MaxPages {
		p.log.Debug().Int("page", p.page).Msg("page cap reached")
		return false
	}

	if p.spec.StopCondition != "" {
		stop, err := p.driver.QueryElement(ctx, p.spec.StopCondition)
		if err == nil && stop.Exists {
			p.log.Debug().Str("selector", p.spec.StopCondition).Msg("stop condition matched")
			return false
		}
	}

	next, err := p.driver.QueryElement(ctx, p.spec.NextSelector)
	if err != nil {
		p.log.Warn().Err(err).Msg("next control query failed")
		return false
	}
	return next.Exists && next.Visible && !next.Disabled
}

// Advance clicks the next control and waits for the new page to settle:
// first the configured post-click delay, then a bounded wait for network
// idle. Click failures end pagination rather than the task.
func (p *Paginator) Advance(ctx context.Context) error {
	if err := p.driver.Click(ctx, p.spec.NextSelector); err != nil {
		return err
	}

	p.driver.Sleep(ctx, time.Duration(p.spec.WaitAfterClick)*time.Millisecond)
	if !p.driver.WaitNetworkIdle(ctx, pageSettleBound) {
		p.log.Debug().Int("page", p.page+1).Msg("network still busy after settle bound")
	}

	p.page++
	return nil
}
