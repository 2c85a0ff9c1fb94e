// Package accord provides a multi-agent demand negotiation engine.
//
// Accord turns a free-form user demand into an actionable plan by
// matching the demand against a population of agents, collecting offers
// from the best matches in parallel, and synthesizing the offers into a
// plan through a bounded LLM coordinator loop.
//
// # Quick Start
//
// Install Accord:
//
//	go install github.com/kadirpekel/accord/cmd/accord@latest
//
// Create a configuration:
//
//	llm:
//	  provider: "anthropic"
//	  model: "claude-sonnet-4-20250514"
//	  api_key: "${ANTHROPIC_API_KEY}"
//
//	engine:
//	  default_k_star: 5
//	  max_center_rounds: 5
//
// Start the server:
//
//	accord serve --config accord.yaml
//
// Or run one negotiation from the command line:
//
//	accord negotiate "I need a technical co-founder"
//
// # Using as Go Library
//
// Import specific packages:
//
//	import (
//	    "github.com/kadirpekel/accord/pkg/builder"
//	    "github.com/kadirpekel/accord/pkg/engine"
//	    "github.com/kadirpekel/accord/pkg/config"
//	)
//
// # Key Features
//
//   - **Resonance matching**: demand and agent profiles meet in vector space
//   - **Offer barrier**: parallel offer collection with per-agent deadlines
//   - **Center loop**: bounded tool-calling coordinator with a hard round cap
//   - **Sub-negotiations**: nested negotiations for capability gaps
//   - **Skill seam**: every strategy point is replaceable, in or out of process
//   - **Event stream**: every state change is observable over SSE
//
// # Architecture
//
// A negotiation flows through a fixed pipeline:
//
//	Demand → Formulation → Confirmation → Matching → Offer Barrier → Center Loop → Plan
//
// The engine owns the state machine; agents are reached only through
// adapters, and every externally visible artifact is emitted as an event.
//
// # Alpha Status
//
// Accord is currently in alpha development. APIs may change, and some
// features are experimental. We welcome feedback and contributions!
//
// # License
//
// Apache-2.0 - See LICENSE for details.
package accord
