package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"github.com/tdhoang/reportfetch/internal/catalog"
)

// Report page date inputs. The to-date is filled first; the portal wipes it
// whenever the from-date changes.
const (
	fromDateLocator = `#ctl00_MainContent_cbo_fromDate_dateInput`
	toDateLocator   = `#ctl00_MainContent_cbo_toDate_dateInput`

	regionTreeToggleLocator = `#ctl00_MainContent_cbbZone_Arrow`

	portalDateLayout = "02/01/2006"

	elementWait = 30 * time.Second
	settlePause = 500 * time.Millisecond
)

// Activate locates a control and clicks it, falling back from a native
// click to a mouse event on the node and finally to a JS click. The portal
// renders controls under overlays often enough that the fallbacks earn
// their keep.
func (s *Session) Activate(ctx context.Context, locator, desc string) error {
	tctx, cancel := context.WithTimeout(s.bind(ctx), elementWait)
	defer cancel()

	opt := queryOption(locator)
	if err := chromedp.Run(tctx,
		chromedp.WaitVisible(locator, opt),
		chromedp.ScrollIntoView(locator, opt),
	); err != nil {
		s.Screenshot("not_found_" + desc)
		return fmt.Errorf("locating %s (%s): %w", desc, locator, ErrNotFound)
	}

	clickErr := chromedp.Run(tctx, chromedp.Click(locator, opt))
	if clickErr == nil {
		return nil
	}
	s.log.Warn("native click failed, retrying via mouse event", "op", desc, "err", clickErr)

	var nodes []*cdp.Node
	clickErr = chromedp.Run(tctx, chromedp.Nodes(locator, &nodes, opt))
	if clickErr == nil && len(nodes) > 0 {
		clickErr = chromedp.Run(tctx, chromedp.MouseClickNode(nodes[0]))
		if clickErr == nil {
			return nil
		}
	}
	s.log.Warn("mouse click failed, retrying via script", "op", desc, "err", clickErr)

	script := jsClick(locator)
	if err := chromedp.Run(tctx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("clicking %s (%s): %w", desc, locator, err)
	}
	return nil
}

// FillDates writes the export window into the report page. Both inputs are
// cleared first; leftovers from the page's default range otherwise merge
// with the typed value.
func (s *Session) FillDates(ctx context.Context, from, to time.Time) error {
	tctx, cancel := context.WithTimeout(s.bind(ctx), elementWait)
	defer cancel()

	fromStr := from.Format(portalDateLayout)
	toStr := to.Format(portalDateLayout)
	if err := chromedp.Run(tctx,
		chromedp.WaitVisible(toDateLocator, chromedp.ByQuery),
		chromedp.Clear(toDateLocator, chromedp.ByQuery),
		chromedp.SendKeys(toDateLocator, toStr, chromedp.ByQuery),
		chromedp.Sleep(settlePause),
		chromedp.Clear(fromDateLocator, chromedp.ByQuery),
		chromedp.SendKeys(fromDateLocator, fromStr, chromedp.ByQuery),
		chromedp.Sleep(settlePause),
	); err != nil {
		s.Screenshot("fill_dates")
		return fmt.Errorf("filling date range %s..%s: %w", fromStr, toStr, err)
	}
	s.log.Info("date range entered", "from", fromStr, "to", toStr)
	return nil
}

// SelectRegion opens the location tree and toggles the checkbox for the
// region. Callers select exactly one region at a time; the portal keeps
// prior selections, so the same call deselects on the next pass.
func (s *Session) SelectRegion(ctx context.Context, id int) error {
	region, ok := catalog.RegionByID(id)
	if !ok {
		return fmt.Errorf("unknown region id %d", id)
	}
	if err := s.Activate(ctx, regionTreeToggleLocator, "region tree toggle"); err != nil {
		return err
	}
	if err := s.Activate(ctx, region.Locator, "region "+region.Name); err != nil {
		return err
	}
	// Close the dropdown so it does not cover the export button.
	if err := s.Activate(ctx, regionTreeToggleLocator, "region tree toggle"); err != nil {
		return err
	}
	s.log.Info("region selected", "region", region.Name)
	return nil
}

// queryOption picks the chromedp selector strategy: XPath locators start
// with a slash, everything else is a CSS query.
func queryOption(locator string) chromedp.QueryOption {
	if len(locator) > 0 && locator[0] == '/' {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

func jsClick(locator string) string {
	if len(locator) > 0 && locator[0] == '/' {
		return fmt.Sprintf(
			`document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue.click()`,
			locator,
		)
	}
	return fmt.Sprintf(`document.querySelector(%q).click()`, locator)
}
