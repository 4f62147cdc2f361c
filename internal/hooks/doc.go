// Package hooks runs ordered pre-call and post-call policy stages around
// every provider call.
//
// A pre stage sees the request before it reaches the backend and may allow,
// deny or replace it. A post stage sees the response and may allow, deny or
// replace it. A deny is terminal and is never retried.
//
// # Webhook Contract
//
// Webhook stages POST a StageInput and expect a StageOutput:
//
//	{
//	  "phase": "request" | "response",
//	  "request": { ... chat request ... },
//	  "response": { ... chat response ... },  // only in the response phase
//	  "metadata": { "model": "...", "run_id": "...", "attempt": 0 }
//	}
//
// Response:
//
//	{
//	  "action": "allow" | "deny" | "mutate",
//	  "request": { ... },
//	  "response": { ... },
//	  "deny_reason": "..."
//	}
package hooks
