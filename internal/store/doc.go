/*
Package store resolves simulation sources to local directories the NetCDF
backend can open.

Two implementations satisfy types.Store:

	┌─────────────────────────────────────────────┐
	│            Controller / HTTP API            │
	└─────────────────────────────────────────────┘
	          │ ListSimulations / EnsureLocal
	┌─────────────────────────────────────────────┐
	│                 types.Store                 │
	│                                             │
	│   Local ──────▶ data root on disk           │
	│                                             │
	│   S3Mirror ───▶ bucket/prefix, staged into  │
	│                 a local staging directory   │
	└─────────────────────────────────────────────┘

Local serves archives straight from a directory tree and never copies
anything. S3Mirror lists the objects under a simulation's prefix and
downloads them into the staging directory before handing back the local
path; objects already staged at the right size are skipped, so repeat
loads of the same simulation cost one LIST. Downloads run concurrently
up to a configured bound and are retried with capped exponential backoff.

Uploads (the publish path) go through the CargoShip transporter, which
handles multipart chunking and storage-class placement.

The package logs through log/slog with a per-store component context.
*/
package store
