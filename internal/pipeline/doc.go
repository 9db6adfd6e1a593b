// Package pipeline wires the capture components into a session.
//
// Architecture:
//
//	┌────────────┐   ┌────────────┐
//	│ ByteSource │…  │ ByteSource │   one pump goroutine per source
//	└─────┬──────┘   └─────┬──────┘
//	      ▼                ▼
//	┌────────────┐   ┌────────────┐
//	│ Extractor  │   │ Extractor  │   per-source framing state machine
//	└─────┬──────┘   └─────┬──────┘
//	      └───────┬────────┘
//	              ▼
//	        ┌──────────┐
//	        │  Store   │               shared, append-only
//	        └────┬─────┘
//	             ▼ (blocking channel = backpressure)
//	        ┌──────────┐
//	        │ Decode + │               single goroutine: arrival order
//	        │ Analyzer │
//	        └────┬─────┘
//	             ▼
//	         Consumer                  closed conversations, standalone
//	                                   frames, diagnostics
//
// Frames are never dropped inside the pipeline: a slow consumer blocks
// the producers. The only sanctioned loss is the device itself
// overflowing, which surfaces as an explicit diagnostic.
package pipeline
