// Package provider is the outbound client for the identity-document
// provider: OAuth2 consent, code exchange, document listing and download.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/kycflow/internal/common"
	"github.com/dmitrijs2005/kycflow/internal/netx"
	"github.com/dmitrijs2005/kycflow/internal/server/models"
	"golang.org/x/oauth2"
)

// DocumentsScope is the OAuth2 scope granting read access to documents.
const DocumentsScope = "documents.read"

// maxListingSize caps the document listing response.
const maxListingSize = 1 << 20

// ErrForeignHost is returned for a document URI outside the provider's
// origin. The access token is never sent there.
var ErrForeignHost = errors.New("document uri outside provider origin")

// RemoteDocument describes a document held by the provider.
type RemoteDocument struct {
	Type     models.DocumentType `json:"type"`
	Name     string              `json:"name"`
	MimeType string              `json:"mimeType"`
	Size     int64               `json:"size"`
	URI      string              `json:"uri"`
}

// Client is what the lifecycle needs from the provider.
type Client interface {
	AuthorizationURL(state string, types []models.DocumentType) string
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)
	ListDocuments(ctx context.Context, tok *oauth2.Token, types []models.DocumentType) ([]RemoteDocument, error)
	Download(ctx context.Context, tok *oauth2.Token, uri string) ([]byte, string, error)
}

type Options struct {
	BaseURL         string
	AuthURL         string
	TokenURL        string
	ClientID        string
	ClientSecret    string
	RedirectURL     string
	MaxDocumentSize int64
	HTTPClient      *http.Client
}

// HTTPClient talks to the provider over HTTPS. Every failure it returns
// wraps common.ErrProviderUnavailable.
type HTTPClient struct {
	oauth      *oauth2.Config
	base       *url.URL
	http       *http.Client
	maxSize    int64
	maxListing int64
}

func NewHTTPClient(o Options) (*HTTPClient, error) {
	base, err := url.Parse(o.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid provider base url: %w", err)
	}
	hc := o.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPClient{
		oauth: &oauth2.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			RedirectURL:  o.RedirectURL,
			Scopes:       []string{DocumentsScope},
			Endpoint: oauth2.Endpoint{
				AuthURL:   o.AuthURL,
				TokenURL:  o.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		base:       base,
		http:       hc,
		maxSize:    o.MaxDocumentSize,
		maxListing: maxListingSize,
	}, nil
}

func joinTypes(types []models.DocumentType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", common.ErrProviderUnavailable, op, err)
}

// AuthorizationURL is where the user is sent to grant consent. state comes
// back unchanged on the callback.
func (c *HTTPClient) AuthorizationURL(state string, types []models.DocumentType) string {
	return c.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("doc_types", joinTypes(types)),
	)
}

func (c *HTTPClient) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, unavailable("exchange code", err)
	}
	return tok, nil
}

func authHeader(tok *oauth2.Token) http.Header {
	return http.Header{"Authorization": {tok.Type() + " " + tok.AccessToken}}
}

func (c *HTTPClient) ListDocuments(ctx context.Context, tok *oauth2.Token, types []models.DocumentType) ([]RemoteDocument, error) {
	u := c.base.ResolveReference(&url.URL{Path: "v1/documents"})
	u.RawQuery = url.Values{"types": {joinTypes(types)}}.Encode()

	body, _, err := netx.Download(ctx, c.http, u.String(), authHeader(tok), c.maxListing)
	if err != nil {
		return nil, unavailable("list documents", err)
	}

	var resp struct {
		Documents []RemoteDocument `json:"documents"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, unavailable("decode documents", err)
	}
	return resp.Documents, nil
}

// Download fetches a document body. uri may be absolute or relative to the
// provider base URL, but must stay on the provider's scheme and host.
func (c *HTTPClient) Download(ctx context.Context, tok *oauth2.Token, uri string) ([]byte, string, error) {
	ref, err := url.Parse(uri)
	if err != nil {
		return nil, "", unavailable("download", err)
	}
	u := c.base.ResolveReference(ref)
	if u.Scheme != c.base.Scheme || u.Host != c.base.Host {
		return nil, "", unavailable("download", fmt.Errorf("%w: %s", ErrForeignHost, u.Host))
	}

	body, contentType, err := netx.Download(ctx, c.http, u.String(), authHeader(tok), c.maxSize)
	if err != nil {
		return nil, "", unavailable("download", err)
	}
	return body, contentType, nil
}
