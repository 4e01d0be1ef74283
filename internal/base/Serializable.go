package base

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"time"

	"golang.org/x/exp/constraints"
)

var LogSerialize = NewLogCategory("Serialize")

/***************************************
 * Archive
 ***************************************/

type ArchiveFlag int32

const (
	AR_LOADING ArchiveFlag = iota
	AR_DETERMINISM
	AR_TOLERANT
	AR_GUARD
)

func (x ArchiveFlag) Ord() int32        { return int32(x) }
func (x *ArchiveFlag) FromOrd(in int32) { *x = ArchiveFlag(in) }
func (x *ArchiveFlag) Set(in string) (err error) {
	switch in {
	case AR_LOADING.String():
		*x = AR_LOADING
	case AR_DETERMINISM.String():
		*x = AR_DETERMINISM
	case AR_TOLERANT.String():
		*x = AR_TOLERANT
	case AR_GUARD.String():
		*x = AR_GUARD
	default:
		err = fmt.Errorf("unkown archive flags: %v", in)
	}
	return
}

func (x ArchiveFlag) String() (str string) {
	switch x {
	case AR_LOADING:
		str = "LOADING"
	case AR_DETERMINISM:
		str = "DETERMINISM"
	case AR_TOLERANT:
		str = "TOLERANT"
	case AR_GUARD:
		str = "GUARD"
	default:
		UnexpectedValuePanic(x, x)
	}
	return
}

type ArchiveFlags struct {
	EnumSet[ArchiveFlag, *ArchiveFlag]
}

func (fl ArchiveFlags) IsLoading() bool {
	return fl.Has(AR_LOADING)
}
func (fl ArchiveFlags) IsDeterministic() bool {
	return fl.Has(AR_DETERMINISM)
}
func (fl ArchiveFlags) IsTolerant() bool {
	return fl.Has(AR_TOLERANT)
}
func (fl ArchiveFlags) IsGuarded() bool {
	return fl.Has(AR_GUARD)
}

type Archive interface {
	Factory() SerializableFactory

	Error() error
	OnError(error)
	OnErrorf(string, ...any)

	Flags() ArchiveFlags

	HasTags(...FourCC) bool
	SetTags(...FourCC)

	Raw(value []byte)
	Byte(value *byte)
	Bool(value *bool)
	Int32(value *int32)
	Int64(value *int64)
	UInt32(value *uint32)
	UInt64(value *uint64)
	Float32(value *float32)
	Float64(value *float64)
	String(value *string)
	Time(value *time.Time)
	Serializable(value Serializable)
}

type Serializable interface {
	Serialize(ar Archive)
}

/***************************************
 * Serializable Factory
 ***************************************/

type SerializableFactory interface {
	RegisterName(typeptr uintptr, name string, concreteType reflect.Type)
	ResolveConreteType(guid serializableGuid) reflect.Type
	ResolveTypename(typeptr uintptr) serializableGuid
}

type serializableGuid [16]byte

func (x serializableGuid) String() string {
	return hex.EncodeToString(x[:])
}

type serializableType struct {
	Name string
	Type reflect.Type
	Guid serializableGuid
}

type serializableFactory struct {
	typeptrToType SharedMapT[uintptr, serializableType]
	guidToType    SharedMapT[serializableGuid, serializableType]
}

var globalSerializableFactory serializableFactory

func GetGlobalSerializableFactory() SerializableFactory {
	return &globalSerializableFactory
}

func (x *serializableFactory) RegisterName(typeptr uintptr, name string, concreteType reflect.Type) {
	Assert(func() bool { return len(name) > 0 })

	typ := serializableType{
		Name: name,
		Type: concreteType}
	fingerprint := StringFingerprint(name)
	copy(typ.Guid[:], fingerprint[:len(typ.Guid)])

	LogDebug(LogSerialize, "register type %v as %q : [%v]", concreteType, name, typ.Guid)

	if prev, ok := x.typeptrToType.FindOrAdd(typeptr, typ); ok && prev != typ {
		LogPanic(LogSerialize, "overwriting factory type %q from <%v> to <%v>", name, prev.Type, concreteType)
	}
	if prev, ok := x.guidToType.FindOrAdd(typ.Guid, typ); ok && prev != typ {
		LogPanic(LogSerialize, "duplicate factory type <%v> from %q to %q", concreteType, prev.Type, concreteType)
	}
}
func (x *serializableFactory) ResolveConreteType(guid serializableGuid) reflect.Type {
	it, ok := x.guidToType.Get(guid)
	if !ok {
		LogPanic(LogSerialize, "could not resolve concrete type from %q", guid)
	}
	return it.Type
}
func (x *serializableFactory) ResolveTypename(typeptr uintptr) serializableGuid {
	it, ok := x.typeptrToType.Get(typeptr)
	if !ok {
		LogPanic(LogSerialize, "could not resolve type name from %X", typeptr)
	}
	return it.Guid
}

func reflectTypename(input reflect.Type) string {
	// see gob.Register()

	// Default to printed representation for unnamed types
	rt := input
	name := rt.String()

	// But for named types (or pointers to them), qualify with import path
	// Dereference one pointer looking for a named type.
	star := ""
	if rt.Name() == "" {
		if pt := rt; pt.Kind() == reflect.Pointer {
			star = "*"
			rt = pt.Elem()
		}
	}
	if rt.Name() != "" {
		if rt.PkgPath() == "" {
			name = star + rt.Name()
		} else {
			name = star + rt.PkgPath() + "." + rt.Name()
		}
	}

	return name
}

func RegisterSerializable[T Serializable](value T) {
	typ, ok := GetTypeptr(value)
	if !ok {
		LogPanic(LogSerialize, "don't register a nil pointer to a struct %T", value)
	}
	rt := reflect.TypeOf(value)
	globalSerializableFactory.RegisterName(typ, reflectTypename(rt), rt)
}

func reflectSerializable[T Serializable](factory SerializableFactory, value T) (serializableGuid, bool) {
	if typ, ok := GetTypeptr(value); ok {
		return factory.ResolveTypename(typ), true
	} else {
		return serializableGuid{}, false
	}
}
func resolveSerializable(factory SerializableFactory, guid serializableGuid) reflect.Type {
	return factory.ResolveConreteType(guid)
}

/***************************************
 * Archive Container Helpers
 ***************************************/

func SerializeMany[T any](ar Archive, serialize func(*T), slice *[]T) {
	size := uint32(len(*slice))
	ar.UInt32(&size)
	AssertErr(func() error {
		if size < 32000 {
			return nil
		}
		return fmt.Errorf("serializable: sanity check failed on slice length (%d > 32000)", size)
	})

	if ar.Flags().IsLoading() {
		*slice = make([]T, size)
	}

	for i := range *slice {
		serialize(&(*slice)[i])
	}
}

func SerializeSlice[T any, S interface {
	*T
	Serializable
}](ar Archive, slice *[]T) {
	SerializeMany(ar, func(it *T) {
		ar.Serializable(S(it))
	}, slice)
}

type SerializablePair[
	K OrderedComparable[K], V any,
	SK interface {
		*K
		Serializable
	},
	SV interface {
		*V
		Serializable
	}] struct {
	Key   K
	Value V
}

func (x *SerializablePair[K, V, SK, SV]) Serialize(ar Archive) {
	ar.Serializable(SK(&x.Key))
	ar.Serializable(SV(&x.Value))
}

func SerializeMap[K OrderedComparable[K], V any,
	SK interface {
		*K
		Serializable
	},
	SV interface {
		*V
		Serializable
	}](ar Archive, assoc *map[K]V) {
	if ar.Flags().IsDeterministic() {
		// sort keys to serialize as a slice with deterministic order, since maps are randomized
		var tmp []SerializablePair[K, V, SK, SV]
		if ar.Flags().IsLoading() {
			SerializeSlice(ar, &tmp)

			*assoc = make(map[K]V, len(tmp))
			for _, pair := range tmp {
				(*assoc)[pair.Key] = pair.Value
			}
		} else {
			tmp = make([]SerializablePair[K, V, SK, SV], 0, len(*assoc))
			for key, value := range *assoc {
				tmp = append(tmp, SerializablePair[K, V, SK, SV]{Key: key, Value: value})
			}

			sort.SliceStable(tmp, func(i, j int) bool {
				return tmp[i].Key.Compare(tmp[j].Key) < 0
			})

			SerializeSlice(ar, &tmp)
		}
	} else {
		// simply iterate through the map and serialize in random order whem determinism is not needed
		size := uint32(len(*assoc))
		ar.UInt32(&size)
		AssertErr(func() error {
			if size < 32000 {
				return nil
			}
			return fmt.Errorf("serializable: sanity check failed on map length (%d > 32000)", size)
		})

		if ar.Flags().IsLoading() {
			*assoc = make(map[K]V, size)
			var key K
			var value V
			for i := uint32(0); i < size; i++ {
				ar.Serializable(SK(&key))
				ar.Serializable(SV(&value))
				(*assoc)[key] = value
			}
		} else {
			for key, value := range *assoc {
				ar.Serializable(SK(&key))
				ar.Serializable(SV(&value))
			}
		}
	}
}

func SerializeExternal[T Serializable](ar Archive, external *T) {
	if ar.Flags().IsLoading() {
		var guid, null serializableGuid
		if ar.Raw(guid[:]); guid != null {
			concreteType := resolveSerializable(ar.Factory(), guid)
			if concreteType.Kind() == reflect.Pointer {
				concreteType = concreteType.Elem()
			}

			value := reflect.New(concreteType)
			*external = value.Interface().(T)
		} else {
			return
		}
	} else {
		guid, ok := reflectSerializable(ar.Factory(), *external)
		ar.Raw(guid[:])
		if !ok {
			return
		}
	}

	ar.Serializable(*external)
}

func SerializeCompactSigned[Signed constraints.Signed](ar Archive, index *Signed) {
	var b byte
	if ar.Flags().IsLoading() {
		ar.Byte(&b)
		sign := b & 0x80 // sign bit
		r := Signed(b & 0x3f)
		if (b & 0x40) != 0 { // has 2nd byte ?
			for shift := 6; ; shift += 7 {
				ar.Byte(&b)
				r |= Signed(b&0x7f) << shift
				if (b & 0x80) == 0 {
					break // no more bytes
				}
			}
		}
		*index = Blend(r, -r, sign != 0)
	} else {
		v := *index
		b = 0
		if v < 0 {
			v = -v
			b |= 0x80 // record sign bit
		}
		b |= byte(v & 0x3f)
		if v <= 0x3f {
			ar.Byte(&b)
		} else {
			b |= 0x40 // has 2nd byte
			v >>= 6
			ar.Byte(&b)
			for v != 0 {
				b = byte(v & 0x7f)
				v >>= 7
				if v != 0 {
					b |= 0x80 // has more bytes
				}
				ar.Byte(&b)
			}
		}
	}
}
func SerializeCompactUnsigned[Unsigned constraints.Unsigned](ar Archive, index *Unsigned) {
	var b byte
	if ar.Flags().IsLoading() {
		ar.Byte(&b)
		shift := 7
		r := Unsigned(b & 0x7f)
		for (b & 0x80) != 0 { // has 2nd byte ?
			ar.Byte(&b)
			r |= Unsigned(b&0x7f) << shift
			shift += 7
		}
		*index = r
	} else {
		v := *index
		for {
			b = byte(v & 0x7f)
			if v >>= 7; v == 0 {
				ar.Byte(&b)
				break
			} else {
				b |= 0x80
				ar.Byte(&b)
			}
		}
	}
}

/***************************************
 * BasicArchive
 ***************************************/

type basicArchive struct {
	bytes   []byte
	tags    []FourCC
	flags   ArchiveFlags
	factory SerializableFactory
	onError func(error)
	err     error
}

func newBasicArchive(flags ...ArchiveFlag) basicArchive {
	ar := basicArchive{
		factory: GetGlobalSerializableFactory(),
		bytes:   TransientSmallPage.Allocate(),
		err:     nil,
		flags: ArchiveFlags{
			MakeEnumSet(flags...),
		},
	}
	return ar
}

func (x basicArchive) Bytes() []byte                { return x.bytes }
func (x basicArchive) Factory() SerializableFactory { return x.factory }
func (x basicArchive) Flags() ArchiveFlags          { return x.flags }
func (x basicArchive) Error() error                 { return x.err }

func (x *basicArchive) Close() error {
	TransientSmallPage.Release(x.bytes)
	x.bytes = nil
	return x.err
}
func (x *basicArchive) HandleErrors(onError func(error)) {
	x.onError = onError
}
func (x *basicArchive) OnError(err error) {
	if err == nil {
		return
	}
	x.err = err
	if x.onError != nil {
		x.onError(err)
	} else if x.flags.IsTolerant() {
		LogError(LogSerialize, "%v", err)
	} else {
		LogPanic(LogSerialize, "%v", err)
	}
}
func (x *basicArchive) OnErrorf(msg string, args ...any) {
	x.OnError(fmt.Errorf(msg, args...))
}
func (x basicArchive) HasTags(tags ...FourCC) bool {
	for _, tag := range tags {
		if !Contains(x.tags, tag) {
			return false
		}
	}
	return true
}
func (x *basicArchive) SetTags(tags ...FourCC) {
	x.tags = tags
}
func (x *basicArchive) Reset() (err error) {
	err = x.err
	x.err = nil
	return
}
