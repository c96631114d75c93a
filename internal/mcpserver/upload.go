package mcpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/estatedesk/internal/models"
)

const (
	maxUploadSize = 20 << 20
	maxRedirects  = 5
)

// uploadTypes maps accepted media types to the extension files are stored
// under.
var uploadTypes = map[string]string{
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"image/svg+xml":   ".svg",
	"application/pdf": ".pdf",
}

// canonicalExt folds extension aliases onto the uploadTypes spelling and
// reports whether the extension is accepted at all.
func canonicalExt(ext string) (string, bool) {
	ext = strings.ToLower(ext)
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	for _, known := range uploadTypes {
		if known == ext {
			return ext, true
		}
	}
	return ext, false
}

// blockedHosts are names refused before any lookup.
var blockedHosts = []string{"metadata.google.internal", "metadata", "localhost"}

// carrierNAT is the shared address space of RFC 6598, not covered by
// netip.Addr.IsPrivate.
var carrierNAT = netip.MustParsePrefix("100.64.0.0/10")

type uploadResult struct {
	Entity models.Entity `json:"entity"`
	URL    string        `json:"url"`
	Linked string        `json:"linked,omitempty"`
}

// payload is uploaded content and the extension its source declared, if any.
type payload struct {
	data []byte
	ext  string
}

func (s *Server) uploadAttachment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	filename := req.GetString("filename", "")
	relation := req.GetString("relation", "")
	source := req.GetString("source", "")
	if relation != "" && source == "" {
		return mcp.NewToolResultError("source is required when relation is set"), nil
	}

	var p payload
	if strings.HasPrefix(rawURL, "data:") {
		p, err = parseDataURI(rawURL)
	} else {
		p, err = download(ctx, rawURL)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(p.data) > maxUploadSize {
		return mcp.NewToolResultError(fmt.Sprintf("file too large: %d bytes (max %d)", len(p.data), maxUploadSize)), nil
	}

	if filename == "" {
		filename = nameFor(rawURL, p.ext)
	}
	ext, ok := canonicalExt(filepath.Ext(filename))
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unsupported file extension %q (allowed: png, jpg, jpeg, gif, webp, svg, pdf)", ext)), nil
	}
	if err := sniff(p.data, ext); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res := s.svc.SaveAttachment(ctx, filename, p.data, relation, source)
	if se, failed := res.Failure(); failed {
		return toolError(se), nil
	}
	e, _ := res.Get()
	out := uploadResult{Entity: e, URL: "/attachments/" + url.PathEscape(e.ID)}
	if relation != "" {
		out.Linked = relation + ":" + source
	}
	return jsonResult(out), nil
}

// parseDataURI decodes data:<mediatype>[;param...];base64,<data>. Only
// base64 bodies of an accepted media type are taken; padding is optional.
func parseDataURI(uri string) (payload, error) {
	meta, encoded, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return payload{}, errors.New("invalid data URI: missing comma separator")
	}
	params := strings.Split(meta, ";")
	if !slices.Contains(params[1:], "base64") {
		return payload{}, errors.New("only base64 data URIs are supported")
	}
	mediaType := strings.ToLower(strings.TrimSpace(params[0]))
	ext, ok := uploadTypes[mediaType]
	if !ok {
		return payload{}, fmt.Errorf("unsupported media type in data URI: %q", mediaType)
	}
	data, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return payload{}, fmt.Errorf("invalid base64 data: %w", err)
	}
	return payload{data: data, ext: ext}, nil
}

// download fetches rawURL over http(s). The host is screened up front and
// every dialled address is screened again, so redirects and DNS answers
// that change between lookup and connect cannot reach internal addresses.
func download(ctx context.Context, rawURL string) (payload, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return payload{}, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return payload{}, fmt.Errorf("unsupported scheme %q (only http and https)", u.Scheme)
	}
	if err := screenHost(ctx, u.Hostname()); err != nil {
		return payload{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return payload{}, fmt.Errorf("invalid URL: %w", err)
	}
	resp, err := downloadClient().Do(req)
	if err != nil {
		return payload{}, fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return payload{}, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUploadSize+1))
	if err != nil {
		return payload{}, fmt.Errorf("read body failed: %w", err)
	}
	if len(data) > maxUploadSize {
		return payload{}, fmt.Errorf("file too large: exceeds %d bytes", maxUploadSize)
	}
	mediaType, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	return payload{data: data, ext: uploadTypes[strings.ToLower(strings.TrimSpace(mediaType))]}, nil
}

func downloadClient() *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, Control: guardDial}
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects (max %d)", maxRedirects)
			}
			return screenHost(req.Context(), req.URL.Hostname())
		},
	}
}

// guardDial runs before each outgoing connection with the resolved address.
func guardDial(_, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("blocked host: unparseable address %q", address)
	}
	if why := blockedReason(ap.Addr()); why != "" {
		return fmt.Errorf("blocked host: %s address %s", why, ap.Addr())
	}
	return nil
}

// screenHost refuses internal names and any host with an internal address
// among its DNS answers. Lookup failures are left to the dialer.
func screenHost(ctx context.Context, host string) error {
	name := strings.TrimSuffix(strings.ToLower(host), ".")
	if slices.Contains(blockedHosts, name) {
		return fmt.Errorf("blocked host: %s", host)
	}
	if addr, err := netip.ParseAddr(name); err == nil {
		if why := blockedReason(addr); why != "" {
			return fmt.Errorf("blocked host: %s address %s", why, addr)
		}
		return nil
	}
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", name)
	if err != nil {
		return nil //nolint:nilerr // the dial reports DNS failures
	}
	for _, addr := range addrs {
		if why := blockedReason(addr); why != "" {
			return fmt.Errorf("blocked host: %s resolves to %s address %s", host, why, addr)
		}
	}
	return nil
}

// blockedReason names the class of a non-public address, or returns "".
func blockedReason(addr netip.Addr) string {
	addr = addr.Unmap()
	switch {
	case !addr.IsValid(), addr.IsUnspecified():
		return "unspecified"
	case addr.IsLoopback():
		return "loopback"
	case addr.IsPrivate(), carrierNAT.Contains(addr):
		return "private"
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return "link-local"
	case addr.IsMulticast(), addr.IsInterfaceLocalMulticast():
		return "multicast"
	}
	return ""
}

// nameFor picks a stored filename: the last element of an http(s) URL path
// when it has an extension, otherwise a random name with ext.
func nameFor(rawURL, ext string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Scheme != "data" {
		base := path.Base(u.Path)
		if e := path.Ext(base); len(e) > 1 && len(base) > len(e) {
			return base
		}
	}
	if ext == "" {
		ext = ".bin"
	}
	return uuid.NewString() + ext
}

// sniff checks that data looks like a file of type ext.
func sniff(data []byte, ext string) error {
	if ext == ".svg" {
		head := data[:min(len(data), 1024)]
		if !bytes.Contains(bytes.ToLower(head), []byte("<svg")) {
			return errors.New("content does not look like SVG: no <svg element")
		}
		return nil
	}
	detected, _, _ := strings.Cut(http.DetectContentType(data), ";")
	if uploadTypes[detected] != ext {
		return fmt.Errorf("content does not match extension %s (detected %s)", ext, detected)
	}
	return nil
}
