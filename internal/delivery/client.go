// Package delivery requests change archives from the address delivery
// service. Delivered archives land in <zipRoot>/<YYMMDD>/ where the
// extractor picks them up.
package delivery

import (
	"context"
	"time"

	"github.com/brensch/jusosync/internal/errs"
)

// ResultCode is the service's answer to a receive request.
type ResultCode string

const (
	// CodeSuccess means files were delivered.
	CodeSuccess ResultCode = "P0000"
	// CodeUpToDate means there is nothing newer than what was delivered before.
	CodeUpToDate ResultCode = "P1000"
	// CodeNoData means the service published nothing for the range.
	CodeNoData ResultCode = "E1001"
)

// DateKindDaily requests daily change sets.
const DateKindDaily = "D"

// Request asks for one dataset's archives over an inclusive date range.
type Request struct {
	Code     string // dataset code, e.g. 100001
	DateKind string
	From     time.Time
	To       time.Time
	Retry    bool // ask the service to re-deliver already delivered files
}

// File is one delivered archive.
type File struct {
	Code string
	Name string
	Path string // where the archive was written
}

// Response is what the service returned.
type Response struct {
	Code    ResultCode
	Message string
	Files   []File
}

// Client is the delivery service transport.
type Client interface {
	Receive(ctx context.Context, req Request) (Response, error)
}

// Outcome is the classification of a successful exchange.
type Outcome int

const (
	Delivered Outcome = iota
	NothingNew
)

func (o Outcome) String() string {
	if o == Delivered {
		return "delivered"
	}
	return "nothing_new"
}

// Classify maps a response onto an outcome. "Up to date" and "no data" are
// normal; any other code is an errs.ErrService.
func Classify(resp Response) (Outcome, error) {
	switch resp.Code {
	case CodeSuccess:
		return Delivered, nil
	case CodeUpToDate, CodeNoData:
		return NothingNew, nil
	}
	return NothingNew, errs.Servicef("code %s: %s", resp.Code, resp.Message)
}
