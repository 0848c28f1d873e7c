// Package conversation is the central layer every customer message
// flows through.
//
// The flow for one inbound message:
//
//  1. Persist the customer message. History is the source of truth;
//     everything downstream can fail and the message still exists.
//  2. Fan the message out to live subscribers.
//  3. If a human agent owns the conversation, stop. The bot never
//     speaks over an agent.
//  4. Evaluate escalation. A verdict of Escalate posts a short notice
//     to the customer and leaves the reply to a human.
//  5. Draft a reply over bounded history, grounded on knowledge-base
//     passages when the chatbot has one.
//  6. Re-check ownership. A takeover that happened while the reply was
//     generating wins, and the draft is dropped.
//  7. Persist and fan out the reply.
//
// Conversation identity is derived from the chatbot/session pair, so
// concurrent first messages from the same widget converge on a single
// conversation without coordination.
package conversation
