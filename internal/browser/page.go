package browser

import "context"

// Page is the set of browser primitives the demo engine drives. Every call
// honors ctx for its deadline.
type Page interface {
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error
	// URL reports the page's current location.
	URL() string
	Click(ctx context.Context, selector string) error
	// Fill replaces the value of the matched input with value.
	Fill(ctx context.Context, selector, value string) error
	// Evaluate runs a JS function expression in the page.
	Evaluate(ctx context.Context, script string) error
	// WaitForSelector blocks until selector matches an element.
	WaitForSelector(ctx context.Context, selector string) error
	// WaitNetworkIdle blocks until in-flight requests settle.
	WaitNetworkIdle(ctx context.Context) error
	// Screenshot captures the viewport as JPEG.
	Screenshot(ctx context.Context, quality int) ([]byte, error)
}

// Engine is a launched automation engine that can host pages.
type Engine interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Launcher starts a fresh Engine.
type Launcher interface {
	Launch(ctx context.Context) (Engine, error)
}
