// Package command defines the tagged-variant request/result protocol that
// flows between a caller (Router/services) and a Node (§4.5). Commands carry
// a Kind tag and a kind-specific payload; the executing side dispatches on
// Kind with a central switch rather than reflection (§9).
package command

// Kind tags every command and response on the wire (§6 wire protocol: the
// uint16 "kind" field). Values are part of the wire contract: never reorder,
// only append.
type Kind uint16

const (
	KindGetBuckets Kind = iota
	KindGetKeys
	KindKeysInRange
	KindGetValue
	KindGetValues
	KindPutValue
	KindRemoveValue
	KindRemoveValues
	KindRemoveBucket
	KindUpdate
	KindMembership
)

func (k Kind) String() string {
	switch k {
	case KindGetBuckets:
		return "GetBuckets"
	case KindGetKeys:
		return "GetKeys"
	case KindKeysInRange:
		return "KeysInRange"
	case KindGetValue:
		return "GetValue"
	case KindGetValues:
		return "GetValues"
	case KindPutValue:
		return "PutValue"
	case KindRemoveValue:
		return "RemoveValue"
	case KindRemoveValues:
		return "RemoveValues"
	case KindRemoveBucket:
		return "RemoveBucket"
	case KindUpdate:
		return "Update"
	case KindMembership:
		return "Membership"
	default:
		return "Unknown"
	}
}

// Version is the codec/body version carried in every frame (§6). Bumped
// whenever a payload's wire shape changes incompatibly; a node that doesn't
// recognize a version fails the connection with a ProtocolError.
const Version uint16 = 1

// Predicate is an optional node-side filter, left to the storage engine to
// evaluate; the command layer only threads its name and parameters through.
// storage.MemoryEngine, the in-memory engine in this repository, ignores it.
type Predicate struct {
	Name   string            `codec:"name"`
	Params map[string]string `codec:"params"`
}

// Range describes a [Start,End] scan bound for KeysInRange.
type Range struct {
	Start string `codec:"start"`
	End   string `codec:"end"`
}

// Command is the envelope a caller builds and a Node executes. Exactly one
// of the typed payload fields is meaningful, selected by Kind; this mirrors
// a tagged union/variant in languages with sum types.
type Command struct {
	Kind   Kind        `codec:"kind"`
	Bucket string      `codec:"bucket,omitempty"`
	Key    string      `codec:"key,omitempty"`
	Keys   []string    `codec:"keys,omitempty"`
	Value  []byte      `codec:"value,omitempty"`

	Pred *Predicate `codec:"pred,omitempty"`

	// KeysInRange
	Range      Range  `codec:"range,omitempty"`
	Comparator string `codec:"comparator,omitempty"`
	Limit      int    `codec:"limit,omitempty"`
	TTL        int64  `codec:"ttl,omitempty"`

	// Update
	Function   string            `codec:"function,omitempty"`
	Parameters map[string]string `codec:"parameters,omitempty"`
	TimeoutMS  int64             `codec:"timeout_ms,omitempty"`
}

// GetBuckets builds a GetBuckets command.
func GetBuckets() Command { return Command{Kind: KindGetBuckets} }

// GetKeys builds a GetKeys command.
func GetKeys(bucket string) Command { return Command{Kind: KindGetKeys, Bucket: bucket} }

// KeysInRange builds a KeysInRange command.
func KeysInRange(bucket string, r Range, comparator string, limit int, ttl int64) Command {
	return Command{Kind: KindKeysInRange, Bucket: bucket, Range: r, Comparator: comparator, Limit: limit, TTL: ttl}
}

// GetValue builds a GetValue command.
func GetValue(bucket, key string, pred *Predicate) Command {
	return Command{Kind: KindGetValue, Bucket: bucket, Key: key, Pred: pred}
}

// GetValues builds a GetValues command.
func GetValues(bucket string, keys []string, pred *Predicate) Command {
	return Command{Kind: KindGetValues, Bucket: bucket, Keys: keys, Pred: pred}
}

// PutValue builds a PutValue command.
func PutValue(bucket, key string, value []byte, pred *Predicate) Command {
	return Command{Kind: KindPutValue, Bucket: bucket, Key: key, Value: value, Pred: pred}
}

// RemoveValue builds a RemoveValue command.
func RemoveValue(bucket, key string) Command {
	return Command{Kind: KindRemoveValue, Bucket: bucket, Key: key}
}

// RemoveValues builds a RemoveValues command.
func RemoveValues(bucket string, keys []string, pred *Predicate) Command {
	return Command{Kind: KindRemoveValues, Bucket: bucket, Keys: keys, Pred: pred}
}

// RemoveBucket builds a RemoveBucket command.
//
// Note (§9 open question, preserved as-is): the broadcast of this command
// picks exactly one node per cluster and declares success as soon as that
// node succeeds. If the bucket's keys live on other nodes too, this is not
// atomic cluster-wide. That is the spec's documented behavior, not a bug to
// silently fix here.
func RemoveBucket(bucket string) Command {
	return Command{Kind: KindRemoveBucket, Bucket: bucket}
}

// Update builds an Update command.
func Update(bucket, key, function string, params map[string]string, timeoutMS int64) Command {
	return Command{Kind: KindUpdate, Bucket: bucket, Key: key, Function: function, Parameters: params, TimeoutMS: timeoutMS}
}

// Membership builds a Membership command.
func Membership() Command { return Command{Kind: KindMembership} }

// Result is the typed outcome of executing a Command. Like Command, exactly
// one field is meaningful depending on the originating Kind.
type Result struct {
	Buckets []string          `codec:"buckets,omitempty"`
	Keys    []string          `codec:"keys,omitempty"`
	Value   []byte            `codec:"value,omitempty"`
	Found   bool              `codec:"found,omitempty"`
	Values  map[string][]byte `codec:"values,omitempty"`
	Members []Member          `codec:"members,omitempty"`
}

// Member describes one cluster member as reported by a Membership command.
type Member struct {
	Name string `codec:"name"`
	Host string `codec:"host"`
	Port int    `codec:"port"`
}
