package types

// Client -> Server
// Join:
//   name: string
//
// Leave: {}
//
// SetReady:
//   ready: boolean
//
// Start:
//   force: boolean // host only
//
// CompleteTask: {}
//
// Eliminate:
//   target: string // client_id
//
// The server stamps every command with the sender's client_id.

// Server -> Client
// Welcome (private):
//   client_id: string
//
// RosterChanged / ReadyStateChanged:
//   version: number
//   roster: [{ slot, id, name, ready, alive }]
//
// SessionSnapshot:
//   version: number
//   session:
//     state: { phase: "gathering" | "starting" | "in_progress" | "terminal", outcome?: "survivors_win" | "cultist_win" }
//     counters: { tasks_completed, task_total, survivors_alive }
//     host: string
//
// SessionStateChanged:
//   from, to: { phase, outcome? }
//
// RoleAssigned (private):
//   role: "survivor" | "cultist"
//
// GameEnded:
//   outcome: "survivors_win" | "cultist_win"
//
// Rejected (private):
//   command: string
//   code: string
//   error: string
//
// Snapshot versions only grow per stream; a client keeps the newest and drops the rest.
