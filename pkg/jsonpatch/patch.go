// Package jsonpatch validates and applies txcore.Patch values using
// evanphx/json-patch, the RFC 6902 implementation the wire protocol's
// delta format is built on.
package jsonpatch

import (
	"encoding/json"
	"fmt"

	jp "github.com/evanphx/json-patch"

	gwerrors "github.com/odvcencio/modelgateway/pkg/errors"
	"github.com/odvcencio/modelgateway/pkg/txcore"
)

// Validate checks that patch is well-formed RFC 6902 by round-tripping
// it through evanphx/json-patch's decoder and rejecting any operation
// whose op is not one of the six RFC 6902 operations. An empty patch is
// valid (spec.md §7 treats it as a no-op, not an error).
func Validate(patch txcore.Patch) error {
	if len(patch) == 0 {
		return nil
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return gwerrors.Wrap(err, gwerrors.ErrCodeBadPatch, "marshaling patch for validation")
	}
	decoded, err := jp.DecodePatch(raw)
	if err != nil {
		return gwerrors.Wrap(err, gwerrors.ErrCodeBadPatch, "patch failed RFC 6902 validation")
	}
	for i, op := range decoded {
		switch op.Kind() {
		case "add", "remove", "replace", "move", "copy", "test":
		default:
			return gwerrors.New(gwerrors.ErrCodeBadPatch, fmt.Sprintf("patch failed RFC 6902 validation: operation %d has unsupported op %q", i, op.Kind()))
		}
	}
	return nil
}

// Apply applies patch to doc (a JSON document) and returns the result.
// Used by trigger providers that compute their own deltas against a
// cached model snapshot before handing them to the transaction
// coordinator.
func Apply(doc []byte, patch txcore.Patch) ([]byte, error) {
	if len(patch) == 0 {
		return doc, nil
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeBadPatch, "marshaling patch for apply")
	}
	decoded, err := jp.DecodePatch(raw)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeBadPatch, "decoding patch for apply")
	}
	out, err := decoded.Apply(doc)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeBadPatch, "applying patch")
	}
	return out, nil
}

// Concat concatenates patches in order, the aggregation rule
// txcore.Merge uses for the "patch" field of ModelUpdateResult.
func Concat(patches ...txcore.Patch) txcore.Patch {
	var out txcore.Patch
	for _, p := range patches {
		out = append(out, p...)
	}
	return out
}

// MustMarshalValue is a small helper for building Operation.Value from
// a Go value, panicking only on genuinely unmarshalable input (a
// programmer error, not a runtime condition plug-in code should
// recover from).
func MustMarshalValue(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("jsonpatch: cannot marshal operation value: %v", err))
	}
	return data
}
