// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"encoding/json"
	"strconv"
	"time"
)

// mergeExtra re-attaches fields that were present on the wire but are not
// part of the known schema. Known fields always win on collision.
func mergeExtra(known []byte, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return known, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// splitExtra returns the wire fields of data that the known struct did not
// consume. The decoded struct is marshaled (with no omitempty tags) to learn
// the schema's key set, so the result is exactly the unrecognized remainder.
func splitExtra(data []byte, known any) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	knownJSON, err := json.Marshal(known)
	if err != nil {
		return nil, err
	}
	var knownKeys map[string]json.RawMessage
	if err := json.Unmarshal(knownJSON, &knownKeys); err != nil {
		return nil, err
	}

	var extra map[string]json.RawMessage
	for k, v := range all {
		if _, ok := knownKeys[k]; ok {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = v
	}
	return extra, nil
}

// unixString formats a time as the decimal unix-seconds string the wire
// format uses. The zero time maps to the empty string.
func unixString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.Unix(), 10)
}

// parseUnixString is the inverse of unixString. Malformed values map to the
// zero time; callers treat that as absent rather than failing the read.
func parseUnixString(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	seconds, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(seconds, 0).UTC()
}
