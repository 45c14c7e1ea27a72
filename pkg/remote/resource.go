package remote

import (
	"fmt"
	"net/url"
	"strconv"
)

// Kind selects the shape of a remote resource.
type Kind string

const (
	// KindGet fetches one record.
	KindGet Kind = "get"
	// KindList fetches an array of records keyed by FieldID.
	KindList Kind = "list"
)

// DefaultPerPage is sent as per_page when a resource paginates without an
// explicit page size.
const DefaultPerPage = 30

// Resource describes one remote endpoint and its load pipeline. Params and
// Page are read every time a URL is built, so they may close over live
// state.
type Resource[R any] struct {
	Name        string
	Kind        Kind
	Path        string
	PathParams  map[string]string
	Params      func() url.Values
	Page        func() int
	PerPage     int
	PickFields  []string
	Raw         []Transform[any, any]
	Transforms  []Transform[R, R]
	FieldID     string
	RequireAuth bool
}

// ResourceOption configures a Resource.
type ResourceOption[R any] func(*Resource[R])

// NewResource builds a descriptor that requires auth by default.
func NewResource[R any](kind Kind, name, path string, opts ...ResourceOption[R]) *Resource[R] {
	res := &Resource[R]{
		Name:        name,
		Kind:        kind,
		Path:        path,
		RequireAuth: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(res)
		}
	}
	return res
}

// WithPathParams fills `{name}` placeholders in the path.
func WithPathParams[R any](params map[string]string) ResourceOption[R] {
	return func(r *Resource[R]) {
		if r.PathParams == nil {
			r.PathParams = make(map[string]string, len(params))
		}
		for k, v := range params {
			r.PathParams[k] = v
		}
	}
}

// WithParams sets the query parameter provider.
func WithParams[R any](params func() url.Values) ResourceOption[R] {
	return func(r *Resource[R]) { r.Params = params }
}

// WithPagination enables page and per_page query parameters. A perPage of
// zero or less uses DefaultPerPage.
func WithPagination[R any](page func() int, perPage int) ResourceOption[R] {
	return func(r *Resource[R]) {
		r.Page = page
		r.PerPage = perPage
	}
}

// WithPickFields projects the raw payload onto the dotted paths.
func WithPickFields[R any](paths ...string) ResourceOption[R] {
	return func(r *Resource[R]) { r.PickFields = append(r.PickFields, paths...) }
}

// WithRawTransform appends a stage that runs on the decoded JSON tree
// before it is hydrated into R.
func WithRawTransform[R any](t Transform[any, any]) ResourceOption[R] {
	return func(r *Resource[R]) {
		if t != nil {
			r.Raw = append(r.Raw, t)
		}
	}
}

// WithTransform appends a typed stage. List resources apply it per item.
func WithTransform[R any](t Transform[R, R]) ResourceOption[R] {
	return func(r *Resource[R]) {
		if t != nil {
			r.Transforms = append(r.Transforms, t)
		}
	}
}

// WithFieldID names the field that keys list items.
func WithFieldID[R any](field string) ResourceOption[R] {
	return func(r *Resource[R]) { r.FieldID = field }
}

// Public marks a resource as fetchable without a token.
func Public[R any]() ResourceOption[R] {
	return func(r *Resource[R]) { r.RequireAuth = false }
}

// Validate reports descriptors that cannot be fetched.
func (r *Resource[R]) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil resource", ErrInvalidResource)
	}
	if r.Path == "" {
		return fmt.Errorf("%w: %s has no path", ErrInvalidResource, r.Name)
	}
	switch r.Kind {
	case KindGet:
	case KindList:
		if r.FieldID == "" {
			return fmt.Errorf("%w: list %s has no field id", ErrInvalidResource, r.Name)
		}
	default:
		return fmt.Errorf("%w: %s has unknown kind %q", ErrInvalidResource, r.Name, r.Kind)
	}
	return nil
}

// Query returns the current query parameters, including pagination.
func (r *Resource[R]) Query() url.Values {
	query := url.Values{}
	if r.Params != nil {
		for key, values := range r.Params() {
			query[key] = append([]string(nil), values...)
		}
	}
	if r.Page != nil {
		perPage := r.PerPage
		if perPage <= 0 {
			perPage = DefaultPerPage
		}
		query.Set("page", strconv.Itoa(r.Page()))
		query.Set("per_page", strconv.Itoa(perPage))
	}
	return query
}

// URL builds the request URL against base.
func (r *Resource[R]) URL(base string) (string, error) {
	path, err := ExpandPath(r.Path, r.PathParams)
	if err != nil {
		return "", err
	}
	return CreateResourceURL(base, path, r.Query())
}

// Load runs the pipeline over one decoded record.
func (r *Resource[R]) Load(rawURL string, payload any) (R, error) {
	return r.pipeline(rawURL)(payload)
}

// LoadList runs the pipeline over every element of a decoded array.
func (r *Resource[R]) LoadList(rawURL string, payload any) ([]R, error) {
	items, ok := payload.([]any)
	if !ok {
		if payload == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: expected array, got %T", ErrFetchFailed, r.Name, payload)
	}
	return Each(r.pipeline(rawURL))(items)
}

func (r *Resource[R]) pipeline(rawURL string) Transform[any, R] {
	raw := Chain(r.Raw...)
	if len(r.PickFields) > 0 {
		raw = Chain(Projection(r.PickFields), raw)
	}
	decode := Decode[R](hydrateContext(r.Name, rawURL))
	return Compose(Compose(raw, decode), Chain(r.Transforms...))
}
