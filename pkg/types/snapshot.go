package types

// StateSnapshot.state:
//   phase: "waiting_for_opponent" | "active" | "ended"
//   operation: "addition" | "subtraction" | "multiplication" | "mixed"
//   players: { home: Player, away: Player }
//     // Player: id|display_name|score|streak|max_streak|questions_answered|current_question
//   connected: { home: boolean, away: boolean }
//   questions: { home: Question, away: Question } // Question: prompt|answer
//   forfeit_by: "home" | "away" | ""
//   end_reason: "timer_expired" | "leave" | "disconnect" | ""
