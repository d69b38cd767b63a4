package redis

import "github.com/redis/go-redis/v9"

// ensureUserScript creates the user hash once and registers the id.
// ARGV holds field/value pairs starting with "id", <id>.
var ensureUserScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 1 then
		return 0
	end
	redis.call('HSET', KEYS[1], unpack(ARGV))
	redis.call('SADD', KEYS[2], ARGV[2])
	return 1
`)

// addXPScript adds ARGV[1] to total_xp with overflow protection and mirrors
// the new total into the all-time sorted set.
var addXPScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return redis.error_reply('NOTFOUND user')
	end
	local delta = tonumber(ARGV[1])
	local current = tonumber(redis.call('HGET', KEYS[1], 'total_xp') or '0')
	if current + delta > 9007199254740991 then
		return redis.error_reply('integer overflow')
	end
	local total = redis.call('HINCRBY', KEYS[1], 'total_xp', delta)
	redis.call('HSET', KEYS[1], 'updated_at', ARGV[2])
	redis.call('ZADD', KEYS[2], total, ARGV[3])
	return total
`)

// incrFieldScript increments one counter of an existing hash.
var incrFieldScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return redis.error_reply('NOTFOUND record')
	end
	local n = redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[2])
	redis.call('HSET', KEYS[1], 'updated_at', ARGV[3])
	return n
`)

// setExistingScript writes field/value pairs only if the hash exists.
var setExistingScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return redis.error_reply('NOTFOUND record')
	end
	redis.call('HSET', KEYS[1], unpack(ARGV))
	return 1
`)

// createHashScript writes a hash only if it does not exist yet.
var createHashScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 1 then
		return 0
	end
	redis.call('HSET', KEYS[1], unpack(ARGV))
	return 1
`)

// insertOnceScript stores ARGV[1] at KEYS[1] unless present. When ARGV[2]
// is "1" the counter at KEYS[2] is incremented in the same step.
var insertOnceScript = redis.NewScript(`
	if not redis.call('SET', KEYS[1], ARGV[1], 'NX') then
		return 0
	end
	if ARGV[2] == '1' then
		redis.call('INCR', KEYS[2])
	end
	return 1
`)

// insertIndexedScript stores ARGV[1] at KEYS[1] unless present and adds
// ARGV[2] to the set at KEYS[2] in the same step.
var insertIndexedScript = redis.NewScript(`
	if not redis.call('SET', KEYS[1], ARGV[1], 'NX') then
		return 0
	end
	redis.call('SADD', KEYS[2], ARGV[2])
	return 1
`)
