// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package pipeline orchestrates submissions to the customs services.

Every submission is a ledger transaction driven by an explicit state
machine. Three families exist:

  - Single-step operations: pending, sending, then success or error.
  - Voyages for the "ar" manifest service: for each shipment a title and a
    shipment detail are registered, the detail reply yields track
    identifiers, and finally the consolidated manifest is registered with
    the identifiers of every shipment. Any failure stops the run; later
    shipments and the manifest are never attempted.
  - Fluvial voyages for the "py" service: manifest header, bill-of-lading
    set, then the route sheet, each referencing the manifest.

Document attachments run as separate transactions linked to their primary
submission. A failed attachment never changes the primary.

Transport failures (ErrNetwork, ErrTimeout) are retried on the schedule
from package reliability. Remote faults, validation errors and ambiguous
replies are never retried. Every terminal error is classified and attached
to the transaction.

Each acknowledged remote step is recorded with the digest of its request
body. Resume starts a new transaction linked to a failed one and skips the
steps whose request is unchanged, refusing to continue when a previously
acknowledged request now differs.
*/
package pipeline
