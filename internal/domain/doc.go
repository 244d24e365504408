// Package domain models seismic stations, decoded waveform blocks, and the
// observations and results produced by epicenter localization.
//
// # Data Source
//
// Waveforms arrive as miniSEED (SEED 2.x data-only) records, either inline in a
// locate job, from a file on disk, or from an FDSN dataselect web service such
// as https://service.iris.edu/fdsnws/. Station coordinates are supplied by the
// caller because not every record type carries them.
//
// # SEED Conventions
//
// Station identity:
//
//	"<network>.<station>"  →  e.g. "IU.ANMO"
//	Network codes are 1–2 characters, station codes 1–5.
//
// Channel codes (three characters):
//
//	band + instrument + orientation, e.g. "BHZ" = broadband, high-gain, vertical.
//	Only vertical components are useful for P-wave picking; the default is BHZ.
//
// Record start time (BTIME), rendered in compact form:
//
//	"YYYY,DDD,HH:MM:SS.ffff"  →  e.g. "2024,117,15:10:03.2500"
//	DDD is the ordinal day of year (001–366). The fraction is optional and may
//	carry up to nine digits when produced by other tools.
//
// # Event Frame
//
// Every event has its own epoch and its own planar reference point:
//
//	Epoch: the start of the anchor (first) station's recording. All arrival
//	times are seconds after this instant.
//	Reference point: the mean latitude and longitude of the event's three
//	stations. Local x grows east and y grows north, both in kilometres.
//
// # Failure Semantics
//
// All localization failures are event-scoped and reported as a
// [LocalizationError] naming the stage (decode, merge, pick, delay, solve) and,
// when applicable, the offending station. A failed event never affects other
// events in the same batch.
//
// # ID Generation
//
// Jobs without an explicit event ID get a deterministic SHA-256 hash of the
// station keys and origin time, so replays of the same job produce the same
// result key. See [generateEventID].
package domain
