package plan_test

import (
	"math"
	"testing"

	"github.com/planwise/planwise/domain/plan"
)

func TestUnlimited(t *testing.T) {
	capped := plan.Plan{Name: "basic", Quota: 10}
	if capped.Unlimited() {
		t.Error("capped plan reported unlimited")
	}
	open := plan.Plan{Name: "max", Quota: math.Inf(1)}
	if !open.Unlimited() {
		t.Error("infinite quota not reported unlimited")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       plan.Plan
		wantErr bool
	}{
		{"valid", plan.Plan{Name: "basic", Quota: 10, OverageRate: 0.01, Price: 20}, false},
		{"valid unlimited", plan.Plan{Name: "max", Quota: math.Inf(1), Price: 50}, false},
		{"zero everything", plan.Plan{Name: "free"}, false},
		{"negative quota", plan.Plan{Name: "bad", Quota: -1}, true},
		{"nan quota", plan.Plan{Name: "bad", Quota: math.NaN()}, true},
		{"negative overage", plan.Plan{Name: "bad", OverageRate: -0.01}, true},
		{"infinite overage", plan.Plan{Name: "bad", OverageRate: math.Inf(1)}, true},
		{"negative price", plan.Plan{Name: "bad", Price: -5}, true},
		{"infinite price", plan.Plan{Name: "bad", Price: math.Inf(1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFind(t *testing.T) {
	plans := []plan.Plan{
		{Name: "basic", Price: 10},
		{Name: "plus", Price: 20},
		{Name: "plus", Price: 99},
	}

	p, ok := plan.Find(plans, "plus")
	if !ok || p.Price != 20 {
		t.Errorf("Find(plus) = %+v, %v; want first match at price 20", p, ok)
	}

	if _, ok := plan.Find(plans, "mega"); ok {
		t.Error("Find(mega) should miss")
	}
}
