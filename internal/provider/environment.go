package provider

import "sync"

// StaticEnvironment is an Environment with a fixed, mutable set of injected
// providers. Providers may be added later to model a wallet app injecting
// itself after a deep link.
type StaticEnvironment struct {
	mu        sync.RWMutex
	providers []InjectedProvider
	mobile    bool
	appURL    string
	opener    func(uri string) error
	opened    []string
}

// NewStaticEnvironment creates an environment with the given providers
func NewStaticEnvironment(mobile bool, appURL string, providers ...InjectedProvider) *StaticEnvironment {
	return &StaticEnvironment{
		providers: providers,
		mobile:    mobile,
		appURL:    appURL,
	}
}

// SetOpener sets the function used to open deep links
func (e *StaticEnvironment) SetOpener(fn func(uri string) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opener = fn
}

// Inject announces a new injected provider
func (e *StaticEnvironment) Inject(p InjectedProvider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.providers = append(e.providers, p)
}

// InjectedProviders implements Environment
func (e *StaticEnvironment) InjectedProviders() []InjectedProvider {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]InjectedProvider, len(e.providers))
	copy(out, e.providers)
	return out
}

// IsMobile implements Environment
func (e *StaticEnvironment) IsMobile() bool { return e.mobile }

// AppURL implements Environment
func (e *StaticEnvironment) AppURL() string { return e.appURL }

// OpenURL implements Environment
func (e *StaticEnvironment) OpenURL(uri string) error {
	e.mu.Lock()
	e.opened = append(e.opened, uri)
	opener := e.opener
	e.mu.Unlock()

	if opener != nil {
		return opener(uri)
	}
	return nil
}

// Opened returns the deep links opened so far
func (e *StaticEnvironment) Opened() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.opened))
	copy(out, e.opened)
	return out
}
