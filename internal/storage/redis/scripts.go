package redis

const (
	// saveAccountScript atomically writes an account and claims its handle
	saveAccountScript = `
local account_key = KEYS[1]     -- playclock:account:{accountID}
local handle_key = KEYS[2]      -- playclock:account:handle:{handle}

local account_id = ARGV[1]
local handle_prefix = ARGV[2]

-- Refuse handles owned by another account
local owner = redis.call('GET', handle_key)
if owner and owner ~= account_id then
  return redis.error_reply('HANDLE_CONFLICT')
end

-- Release the previous handle if it changed
local previous = redis.call('HGET', account_key, 'handle_norm')
if previous and (handle_prefix .. previous) ~= handle_key then
  redis.call('DEL', handle_prefix .. previous)
end

-- Remaining args are field/value pairs
redis.call('HSET', account_key, unpack(ARGV, 3))
redis.call('SET', handle_key, account_id)

return 'OK'
`

	// saveSessionScript atomically updates a session and its open-session indexes
	saveSessionScript = `
local session_key = KEYS[1]     -- playclock:session:{sessionID}
local open_set = KEYS[2]        -- playclock:sessions:open
local account_set = KEYS[3]     -- playclock:sessions:account:{accountID}

local session_id = ARGV[1]
local account_id = ARGV[2]
local created_at = ARGV[3]
local expires_at = ARGV[4]
local logged_out_at = ARGV[5]
local logout_reason = ARGV[6]
local closed_ttl = tonumber(ARGV[7])

-- Set session fields
redis.call('HSET', session_key,
  'id', session_id,
  'account_id', account_id,
  'created_at', created_at,
  'expires_at', expires_at,
  'logged_out_at', logged_out_at,
  'logout_reason', logout_reason
)

if logged_out_at == '' then
  -- Open session: index it
  redis.call('SADD', open_set, session_id)
  redis.call('SADD', account_set, session_id)
  redis.call('PERSIST', session_key)
else
  -- Closed session: drop from indexes and let it age out
  redis.call('SREM', open_set, session_id)
  redis.call('SREM', account_set, session_id)
  if closed_ttl > 0 then
    redis.call('EXPIRE', session_key, closed_ttl)
  end
end

return 'OK'
`

	// releaseLockScript deletes a lock key only if it still holds the
	// caller's token, so an expired lease taken over by someone else is
	// left alone
	releaseLockScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`
)
