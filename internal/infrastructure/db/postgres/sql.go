package postgres

const insertMessageSQL = `
INSERT INTO messages (id, user_id, payload_kind, payload_data, created_at)
VALUES ($1, $2, $3, $4::jsonb, $5)
`

const insertDestinationSQL = `
INSERT INTO message_destinations (
  id, message_id, platform, chat_id, status, status_reason,
  attempt_count, last_attempt_at, sent_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

const getMessageSQL = `
SELECT id, user_id, payload_kind, payload_data, created_at
FROM messages
WHERE id = $1
`

const getDestinationsSQL = `
SELECT id, message_id, platform, chat_id, status, status_reason,
       attempt_count, last_attempt_at, sent_at, updated_at
FROM message_destinations
WHERE message_id = $1
ORDER BY seq ASC
`

const getDestinationSQL = `
SELECT id, message_id, platform, chat_id, status, status_reason,
       attempt_count, last_attempt_at, sent_at, updated_at
FROM message_destinations
WHERE id = $1
`

// Compare-and-swap on updated_at: a concurrent writer moves updated_at
// forward and this update matches zero rows.
const updateDestinationSQL = `
UPDATE message_destinations
SET status = $3,
    status_reason = $4,
    attempt_count = $5,
    last_attempt_at = $6,
    sent_at = $7,
    updated_at = NOW()
WHERE id = $1 AND updated_at = $2
RETURNING updated_at
`

const listMessagesSQL = `
SELECT id, user_id, payload_kind, payload_data, created_at
FROM messages
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3
`

// Backoff is evaluated in SQL so the sweeper only sees destinations whose
// retry window has elapsed.
const findPendingRetriesSQL = `
SELECT id, message_id, platform, chat_id, status, status_reason,
       attempt_count, last_attempt_at, sent_at, updated_at
FROM message_destinations
WHERE status = 'retrying'
  AND last_attempt_at IS NOT NULL
  AND last_attempt_at + make_interval(secs => $1 * power(2, LEAST(attempt_count, $2))) <= NOW()
ORDER BY last_attempt_at ASC
LIMIT $3
`

const findStalePendingSQL = `
SELECT id, message_id, platform, chat_id, status, status_reason,
       attempt_count, last_attempt_at, sent_at, updated_at
FROM message_destinations
WHERE status = 'pending' AND updated_at <= $1
ORDER BY updated_at ASC
LIMIT $2
`

const insertAttemptSQL = `
INSERT INTO message_attempts (
  id, message_id, destination_id, attempt_number, status, status_reason, requested_by, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const getAttemptsSQL = `
SELECT id, message_id, destination_id, attempt_number, status, status_reason, requested_by, created_at
FROM message_attempts
WHERE message_id = $1
ORDER BY created_at DESC, attempt_number DESC
`

const deactivateTokenSQL = `
UPDATE platform_tokens
SET status = 'inactive', updated_at = NOW()
WHERE user_id = $1 AND platform = $2 AND status = 'active'
`

const insertTokenSQL = `
INSERT INTO platform_tokens (
  id, user_id, platform, access_token, refresh_token, status, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const findActiveTokenSQL = `
SELECT id, user_id, platform, access_token, refresh_token, status, created_at, updated_at
FROM platform_tokens
WHERE user_id = $1 AND platform = $2 AND status = 'active'
ORDER BY updated_at DESC
LIMIT 1
`

const listTokensSQL = `
SELECT id, user_id, platform, access_token, refresh_token, status, created_at, updated_at
FROM platform_tokens
WHERE user_id = $1
ORDER BY updated_at DESC
`
