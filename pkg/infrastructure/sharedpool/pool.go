package sharedpool

import (
	"errors"
	"sync"
)

type WrappedValueReleaseFunc func() error

type SharedValue[K comparable, V any] struct {
	v V

	key     K
	release func(key K) error
}

func (v *SharedValue[K, V]) Value() V {
	return v.v
}

func (v *SharedValue[K, V]) Release() error {
	return v.release(v.key)
}

type ValueFactory[K comparable, V any] func(key K) (V, WrappedValueReleaseFunc, error)

func NewPool[K comparable, V any](factory ValueFactory[K, V]) *Pool[K, V] {
	return &Pool[K, V]{
		valueFactory: factory,
		pool:         make(map[K]*sharedEntry[K, V]),
	}
}

type sharedEntry[K comparable, V any] struct {
	value        *SharedValue[K, V]
	releaseValue WrappedValueReleaseFunc
	count        int
}

type Pool[K comparable, V any] struct {
	valueFactory ValueFactory[K, V]

	mu   sync.Mutex
	pool map[K]*sharedEntry[K, V]
}

func (p *Pool[K, V]) Get(key K) (*SharedValue[K, V], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.pool[key]
	if ok {
		entry.count++
		return entry.value, nil
	}

	v, releaseValue, err := p.valueFactory(key)
	if err != nil {
		return nil, err
	}
	entry = &sharedEntry[K, V]{
		value: &SharedValue[K, V]{
			v:       v,
			key:     key,
			release: p.release,
		},
		releaseValue: releaseValue,
		count:        1,
	}
	p.pool[key] = entry
	return entry.value, nil
}

func (p *Pool[K, V]) release(key K) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.pool[key]
	if !ok {
		return errors.New("value not found in pool")
	}
	if entry.count == 1 {
		delete(p.pool, key)
		if entry.releaseValue != nil {
			return entry.releaseValue()
		}
		return nil
	}
	entry.count--
	return nil
}
