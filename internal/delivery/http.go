package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html"

	"github.com/brensch/jusosync/internal/errs"
	"github.com/brensch/jusosync/internal/util"
)

// userAgent identifies the fetcher to the mirror.
const userAgent = "jusosync/1.0"

// HTTPClient talks to an HTTP mirror of the delivery service. The mirror
// publishes one index page per dataset code and day,
//
//	<baseURL>/<code>/<yyyyMMdd>/
//
// listing the day's .zip archives. A 404 index means the service has no data
// for that day.
type HTTPClient struct {
	baseURL *url.URL
	appKey  string
	zipRoot string
	loc     *time.Location
	rc      *resty.Client
	logger  *slog.Logger
}

// HTTPOptions configures an HTTPClient.
type HTTPOptions struct {
	BaseURL  string
	AppKey   string
	ZipRoot  string
	Timeout  time.Duration
	Retries  int
	Location *time.Location
}

func NewHTTPClient(opts HTTPOptions, logger *slog.Logger) (*HTTPClient, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errs.Configf("invalid delivery base url %q", opts.BaseURL)
	}
	if opts.ZipRoot == "" {
		return nil, errs.Configf("delivery zip root is required")
	}
	loc := opts.Location
	if loc == nil {
		loc = util.KSTLocation()
	}

	rc := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(2*time.Second).
		SetRetryMaxWaitTime(30*time.Second).
		SetHeader("User-Agent", userAgent).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	return &HTTPClient{
		baseURL: base,
		appKey:  opts.AppKey,
		zipRoot: opts.ZipRoot,
		loc:     loc,
		rc:      rc,
		logger:  logger,
	}, nil
}

// Receive fetches the index of every day in the request range and downloads
// each listed archive into <zipRoot>/<YYMMDD>/, oldest day first.
func (c *HTTPClient) Receive(ctx context.Context, req Request) (Response, error) {
	if req.Code == "" {
		return Response{}, errs.Configf("dataset code is required")
	}
	from := util.DateOf(req.From, c.loc)
	to := util.DateOf(req.To, c.loc)
	if to.Before(from) {
		to = from
	}

	var files []File
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		dayFiles, err := c.receiveDay(ctx, req, day)
		if err != nil {
			return Response{}, err
		}
		files = append(files, dayFiles...)
	}

	if len(files) == 0 {
		return Response{Code: CodeNoData, Message: "no archives published"}, nil
	}
	return Response{Code: CodeSuccess, Files: files}, nil
}

func (c *HTTPClient) receiveDay(ctx context.Context, req Request, day time.Time) ([]File, error) {
	indexURL := c.baseURL.JoinPath(req.Code, util.FormatDay(day), "/")
	l := c.logger.With(slog.String("code", req.Code), slog.String("day", util.FormatDay(day)))

	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"app_key":  c.appKey,
			"date_gb":  dateKind(req.DateKind),
			"retry_in": yn(req.Retry),
		}).
		Get(indexURL.String())
	if err != nil {
		return nil, errs.Servicef("index request %s: %s", indexURL.Redacted(), c.scrub(err))
	}
	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusNotFound:
		l.Info("No archives published for day.")
		return nil, nil
	default:
		return nil, errs.Servicef("index request %s returned HTTP %d", indexURL.Redacted(), resp.StatusCode())
	}

	doc, err := html.Parse(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, errs.Servicef("failed to parse index %s: %v", indexURL.Redacted(), err)
	}
	links := util.ParseLinks(doc, indexURL, ".zip")
	if len(links) == 0 {
		l.Info("Index lists no archives.")
		return nil, nil
	}

	dir := filepath.Join(c.zipRoot, util.FormatDirDay(day))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory %s: %w", dir, err)
	}

	files := make([]File, 0, len(links))
	for _, link := range links {
		name, err := archiveName(link)
		if err != nil {
			return nil, errs.Servicef("bad archive link %s: %v", link, err)
		}
		target := filepath.Join(dir, name)
		if err := c.download(ctx, link, target); err != nil {
			return nil, err
		}
		l.Info("Archive downloaded.", slog.String("file", name), slog.String("path", target))
		files = append(files, File{Code: req.Code, Name: name, Path: target})
	}
	return files, nil
}

// download writes link to a temp file next to target and renames it into
// place so a partial download never looks like an archive.
func (c *HTTPClient) download(ctx context.Context, link, target string) error {
	tmp := target + ".part"
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("app_key", c.appKey).
		SetOutput(tmp).
		Get(link)
	if err != nil {
		_ = os.Remove(tmp)
		return errs.Servicef("download %s: %s", link, c.scrub(err))
	}
	if resp.StatusCode() != http.StatusOK {
		_ = os.Remove(tmp)
		return errs.Servicef("download %s returned HTTP %d", link, resp.StatusCode())
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", target, err)
	}
	return nil
}

// scrub renders a transport error without the request's query string, which
// carries the app key.
func (c *HTTPClient) scrub(err error) string {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		if u, perr := url.Parse(uerr.URL); perr == nil {
			u.RawQuery = ""
			uerr.URL = u.Redacted()
		}
	}
	msg := err.Error()
	if c.appKey != "" {
		msg = strings.ReplaceAll(msg, c.appKey, "REDACTED")
	}
	return msg
}

func archiveName(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", err
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("no file name")
	}
	return name, nil
}

func dateKind(k string) string {
	if k == "" {
		return DateKindDaily
	}
	return k
}

func yn(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}
