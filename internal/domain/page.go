package domain

import "context"

// Page is the view extraction strategies have of the hosted web application.
// Selectors are CSS selectors; lookups return the first match in document order.
type Page interface {
	Hostname(ctx context.Context) (string, error)
	Exists(ctx context.Context, selector string) (bool, error)
	// Texts returns the visible text of every element matching selector.
	Texts(ctx context.Context, selector string) ([]string, error)
	Click(ctx context.Context, selector string) error
	ReadClipboard(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
}

// CapturedResponse is a response body recorded from the page's own traffic.
type CapturedResponse struct {
	URL  string
	Body []byte
}

// Interceptor is implemented by pages that can record their outbound traffic.
type Interceptor interface {
	// Intercept starts recording responses whose URL satisfies match.
	// Calling it more than once has no further effect.
	Intercept(ctx context.Context, match func(url string) bool) error
	// LastResponse returns the most recent recorded response.
	LastResponse() (CapturedResponse, bool)
}

// ChangeNotifier is implemented by pages that can signal content changes.
type ChangeNotifier interface {
	Changes() <-chan struct{}
}
