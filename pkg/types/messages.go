package types

// Client -> Server (websocket /ws/match)
// Connect: {}
//   side: "home" | "away" (query param at upgrade)
//
// SubmitAnswer:
//   answer: number
//
// Leave: {}
//
// Pong:
//   seq: number // echoes the seq of the server Ping it answers

// Server -> Client (websocket /ws/match)
// StateSnapshot:
//   version: number
//   remaining_ms: number
//   state: see snapshot.go
//
// Ping:
//   seq: number
//
// Error:
//   error: string

// Server -> Client (websocket /ws/party)
// PartyUpdate:
//   version: number
//   queue_changed: boolean
//   party:
//     id: string
//     leader_id: string
//     members: Member[] // user_id|display_name|is_leader|is_ready|is_igl|is_anchor
//     igl_id: string
//     anchor_id: string
//     queue_status: "" | "finding_teammates" | "finding_opponents" | "ai_match:<id>"
//     linked_team_id: string
//     pending_invites: string[]
