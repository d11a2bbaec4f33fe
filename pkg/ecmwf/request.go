package ecmwf

import (
	"maps"
	"slices"
)

// Recognised request keys.
const (
	KeyParam  = "param"
	KeyFormat = "format"
	KeyArea   = "area"
	KeyDate   = "date"
	KeyTarget = "target"
)

// Request is a single archive retrieval: a flat mapping of archive keywords
// to values. Keys other than the recognised ones are passed through untouched.
type Request map[string]string

// Target returns the local filename the request is downloaded to.
func (r Request) Target() string { return r[KeyTarget] }

// Date returns the "start/to/end" date range, or "" for undated requests.
func (r Request) Date() string { return r[KeyDate] }

// Area returns the "N/W/S/E" area, or "" if none was selected.
func (r Request) Area() string { return r[KeyArea] }

// Clone returns a copy of r.
func (r Request) Clone() Request {
	if r == nil {
		return nil
	}
	return maps.Clone(r)
}

// Keys returns the keys of r in sorted order.
func (r Request) Keys() []string {
	return slices.Sorted(maps.Keys(r))
}

// mergeRequest builds a new Request from shared options followed by
// per-request fields. Later layers win on key collisions.
func mergeRequest(shared Request, perRequest Request) Request {
	out := make(Request, len(shared)+len(perRequest))
	for k, v := range shared {
		out[k] = v
	}
	for k, v := range perRequest {
		out[k] = v
	}
	return out
}

// Requests derives the archive requests of the plan, in chronological order.
//
// Without a time selection each filename yields a request holding only its
// target. Otherwise every request carries its date range, target and all
// shared options. A fresh slice of fresh maps is returned on every call.
func (p *Plan) Requests() []Request {
	if len(p.dates) == 0 {
		reqs := make([]Request, 0, len(p.filenames))
		for _, target := range p.filenames {
			reqs = append(reqs, Request{KeyTarget: target})
		}
		return reqs
	}

	reqs := make([]Request, 0, len(p.dates))
	for i, date := range p.dates {
		reqs = append(reqs, mergeRequest(p.shared, Request{
			KeyDate:   date,
			KeyTarget: p.filenames[i],
		}))
	}
	return reqs
}
