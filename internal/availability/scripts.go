package availability

// luaClampedDecrement implements the §4.5 "Decrement crossing zero is
// clamped to zero" defense against stale cache entries: the relational
// UPDATE guard is what actually prevents overselling, this is only a
// display-layer backstop so the cached counter never reads negative.
const luaClampedDecrement = `
local v = redis.call("GET", KEYS[1])
if v == false then
    return -1
end
v = tonumber(v)
if v <= 0 then
    redis.call("SET", KEYS[1], 0, "EX", ARGV[1])
    return 0
end
v = v - 1
redis.call("SET", KEYS[1], v, "EX", ARGV[1])
return v
`

// luaClampedIncrement mirrors the sweeper/cancellation restoration path's
// LEAST(quantity, available+k) clamp so the cache never drifts above the
// seat type's total capacity.
const luaClampedIncrement = `
local v = redis.call("GET", KEYS[1])
if v == false then
    return -1
end
v = tonumber(v) + tonumber(ARGV[2])
local cap = tonumber(ARGV[3])
if v > cap then
    v = cap
end
redis.call("SET", KEYS[1], v, "EX", ARGV[1])
return v
`
