// Package harness runs registration scenarios end to end.
//
// A scenario drives a real App (store, scheduler and orchestrator) against a
// scripted in-process directory, with a settable clock and deterministic
// change tokens. Every directory request, platform registration, finished
// registration and pending retry is recorded in a trace that assertions
// inspect and golden files pin down.
//
// # Scenario Format
//
//	name: transient_channel_failure
//	description: "A 503 on create is retried after the minimum backoff"
//	config:
//	  opt_in: true
//	  platform_token: tok-1
//	directory:
//	  create_channel:
//	    - status: 503
//	    - status: 201
//	      channel_id: chan-1
//	steps:
//	  - start: true
//	  - advance: 10s
//	  - named_user: user-1
//	  - tags: { facet: channel, add: { loyalty: [gold] } }
//	  - enqueue: update-registration
//	  - restart: true
//	assertions:
//	  - type: request_count
//	    op: create_channel
//	    count: 2
//	  - type: request_order
//	    ops: [create_channel, associate_named_user]
//	  - type: request_contains
//	    op: associate_named_user
//	    fields: { named_user: user-1 }
//	  - type: final_state
//	    expect: { channel_id: chan-1, scheduled: 0 }
//
// Directory results not scripted succeed: creates answer 201 with a
// generated channel id, everything else 200.
//
// # Steps
//
// Each step performs one action and then drains the scheduler, so every
// task it caused (including chained follow-ups) has run before the next
// step. Delayed retries only run once an advance step moves the clock past
// their fire time. A restart step rebuilds the App over the same store,
// losing in-memory backoff exactly like a process restart would.
//
// # Golden Traces
//
// RunWithGolden compares the text trace with testdata/golden/<name>.golden.
// Regenerate with:
//
//	go test ./internal/harness -update
package harness
