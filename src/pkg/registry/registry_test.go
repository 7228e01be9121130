package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/smithy-go"
	"github.com/gh-nvat/bluegreen/src/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSSM struct {
	params map[string]string
	putErr error
	getErr error
}

func newMockSSM() *mockSSM {
	return &mockSSM{params: map[string]string{}}
}

func (m *mockSSM) GetParameter(ctx context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.params[aws.ToString(in.Name)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "ParameterNotFound", Message: "not found"}
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: in.Name, Value: aws.String(v)}}, nil
}

func (m *mockSSM) PutParameter(ctx context.Context, in *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	name := aws.ToString(in.Name)
	if _, exists := m.params[name]; exists && !aws.ToBool(in.Overwrite) {
		return nil, &smithy.GenericAPIError{Code: "ParameterAlreadyExists", Message: "exists"}
	}
	m.params[name] = aws.ToString(in.Value)
	return &ssm.PutParameterOutput{}, nil
}

func (m *mockSSM) DeleteParameter(ctx context.Context, in *ssm.DeleteParameterInput, _ ...func(*ssm.Options)) (*ssm.DeleteParameterOutput, error) {
	delete(m.params, aws.ToString(in.Name))
	return &ssm.DeleteParameterOutput{}, nil
}

var testLayout = NewLayout("printapp", "us-east-1", "printapp.example.com", []string{"production"})

func TestInactiveColorIsComplement(t *testing.T) {
	tests := []struct {
		active models.Color
		want   models.Color
	}{
		{models.COLOR_BLUE, models.COLOR_GREEN},
		{models.COLOR_GREEN, models.COLOR_BLUE},
	}
	for _, tt := range tests {
		t.Run(string(tt.active), func(t *testing.T) {
			reg := NewMemoryRegistry(map[string]models.Color{"staging": tt.active})
			got, err := InactiveColor(context.Background(), reg, "staging")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			active, err := reg.ActiveColor(context.Background(), "staging")
			require.NoError(t, err)
			assert.NotEqual(t, active, got)
		})
	}
}

func TestEnvironmentsHaveExactlyOneActive(t *testing.T) {
	reg := NewMemoryRegistry(map[string]models.Color{"staging": models.COLOR_GREEN})
	envs, err := Environments(context.Background(), reg, "staging", testLayout)
	require.NoError(t, err)
	require.Len(t, envs, 2)

	active := 0
	for _, e := range envs {
		if e.IsActive {
			active++
			assert.Equal(t, models.COLOR_GREEN, e.Color)
		}
	}
	assert.Equal(t, 1, active)
	assert.Equal(t, "staging-blue-printapp-bucket", envs[0].StorageTarget)
}

func TestMemoryRegistryUnsetGroupIsUnavailable(t *testing.T) {
	reg := NewMemoryRegistry(nil)
	_, err := reg.ActiveColor(context.Background(), "staging")
	assert.ErrorIs(t, err, ErrRegistryUnavailable)

	reg.Unavailable = true
	assert.ErrorIs(t, reg.SetActiveColor(context.Background(), "staging", models.COLOR_BLUE), ErrRegistryUnavailable)
}

func TestMemoryRegistryLease(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(nil)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }

	first, err := reg.AcquireLease(ctx, "staging", "deploy", time.Minute)
	require.NoError(t, err)

	_, err = reg.AcquireLease(ctx, "staging", "rollback", time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	_, err = reg.AcquireLease(ctx, "production", "rollback", time.Minute)
	assert.NoError(t, err)

	now = now.Add(2 * time.Minute)
	second, err := reg.AcquireLease(ctx, "staging", "rollback", time.Minute)
	require.NoError(t, err)

	// stale owner cannot drop the new lease
	require.NoError(t, reg.ReleaseLease(ctx, first))
	_, err = reg.AcquireLease(ctx, "staging", "deploy", time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	require.NoError(t, reg.ReleaseLease(ctx, second))
	_, err = reg.AcquireLease(ctx, "staging", "deploy", time.Minute)
	assert.NoError(t, err)
}

func TestSSMRegistryActiveColor(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]string
		getErr  error
		want    models.Color
		wantErr bool
	}{
		{name: "blue", params: map[string]string{"/staging/printapp/active-environment": "blue"}, want: models.COLOR_BLUE},
		{name: "trailing newline", params: map[string]string{"/staging/printapp/active-environment": "green\n"}, want: models.COLOR_GREEN},
		{name: "unset key", params: map[string]string{}, wantErr: true},
		{name: "garbage value", params: map[string]string{"/staging/printapp/active-environment": "purple"}, wantErr: true},
		{name: "unreachable", getErr: &smithy.GenericAPIError{Code: "ThrottlingException"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newMockSSM()
			for k, v := range tt.params {
				client.params[k] = v
			}
			client.getErr = tt.getErr
			reg := NewSSMRegistry(client, testLayout)

			got, err := reg.ActiveColor(context.Background(), "staging")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrRegistryUnavailable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSSMRegistrySetActiveColor(t *testing.T) {
	client := newMockSSM()
	reg := NewSSMRegistry(client, testLayout)

	require.NoError(t, reg.SetActiveColor(context.Background(), "production", models.COLOR_GREEN))
	assert.Equal(t, "green", client.params["/production/printapp/active-environment"])

	assert.Error(t, reg.SetActiveColor(context.Background(), "production", models.Color("red")))
}

func TestSSMRegistryLease(t *testing.T) {
	ctx := context.Background()
	client := newMockSSM()
	reg := NewSSMRegistry(client, testLayout)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }

	lease, err := reg.AcquireLease(ctx, "staging", "deploy", 30*time.Minute)
	require.NoError(t, err)

	var stored Lease
	require.NoError(t, json.Unmarshal([]byte(client.params["/staging/printapp/deploy-lease"]), &stored))
	assert.Equal(t, lease.Token, stored.Token)

	_, err = reg.AcquireLease(ctx, "staging", "rollback", 30*time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	now = now.Add(time.Hour)
	taken, err := reg.AcquireLease(ctx, "staging", "rollback", 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "rollback", taken.Owner)

	require.NoError(t, reg.ReleaseLease(ctx, lease))
	assert.Contains(t, client.params, "/staging/printapp/deploy-lease")

	require.NoError(t, reg.ReleaseLease(ctx, taken))
	assert.NotContains(t, client.params, "/staging/printapp/deploy-lease")
}

func TestLayout(t *testing.T) {
	assert.Equal(t, "/staging/printapp/active-environment", testLayout.ActiveKey("staging"))
	assert.Equal(t, "/production/printapp/cloudfront-distribution-id", testLayout.DistributionKey("production"))
	assert.Equal(t, "http://staging-green-printapp-bucket.s3-website-us-east-1.amazonaws.com", testLayout.IdleURL("staging", models.COLOR_GREEN))
	assert.Equal(t, "https://printapp.example.com", testLayout.PublicURL("production"))
	assert.Equal(t, "https://staging.printapp.example.com", testLayout.PublicURL("staging"))
}
