// Package values implements the Convex wire dialect ("convex_encoded_json").
//
// The dialect is JSON with tagged envelopes for values JSON cannot represent
// exactly:
//   - exact 64-bit integers: {"$integer": base64(8 bytes LE)}
//   - NaN, ±Inf and -0.0:    {"$float": base64(8 bytes LE)}
//   - raw bytes:             {"$bytes": base64(...)}
//
// Only 32-bit-kinded integers within the 32-bit range appear as bare JSON
// numbers; a 64-bit-kinded integer keeps its envelope even when small, so
// the kind survives a round trip.
//
// Encodings are canonical: object keys are sorted, null-valued properties are
// omitted, and string escaping is fixed, so the same logical value always
// produces the same bytes. Fingerprints built on top of this property
// deduplicate live subscriptions.
package values
