package tenancy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(Context{TenantID: "tenant-a"}))
	assert.NoError(t, Validate(Context{TenantID: "3f2c6f4e-9a1b-4c2d-8e7f-0a1b2c3d4e5f"}))

	assert.Error(t, Validate(Context{}))
	assert.Error(t, Validate(Context{TenantID: "Tenant-A"}))
	assert.Error(t, Validate(Context{TenantID: "-leading"}))

	long := make([]byte, maxTenantIDLen+1)
	for i := range long {
		long[i] = 'a'
	}
	assert.Error(t, Validate(Context{TenantID: string(long)}))
}

func TestMembershipActorResolver(t *testing.T) {
	actor, err := MembershipActorResolver{}.ResolveActor(Context{TenantID: "t", MembershipID: "m-1"})
	require.NoError(t, err)
	assert.Equal(t, "m-1", actor)

	_, err = MembershipActorResolver{}.ResolveActor(Context{TenantID: "t"})
	assert.Error(t, err)
}

func TestContextRoundTrip(t *testing.T) {
	tc := Context{TenantID: "tenant-a", MembershipID: "m-1", Role: "auditor"}
	ctx := WithContext(context.Background(), tc)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, tc, got)
	assert.Equal(t, "tenant-a", TenantFromContext(ctx))

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
	assert.Empty(t, TenantFromContext(context.Background()))
}
