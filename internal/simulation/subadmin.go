package simulation

import (
	"context"
	"net/http"
	"time"
)

// subAdminBehavior 副管理员：审阅、签名/撤销签名、整班签名
type subAdminBehavior struct{}

func (subAdminBehavior) thinkTime() (time.Duration, time.Duration) {
	return 250 * time.Millisecond, 900 * time.Millisecond
}

func (subAdminBehavior) episode(ctx context.Context, l *actorLoop) {
	seed := l.seed
	if seed == nil {
		seed = &SeedResult{}
	}

	switch {
	case len(seed.AssignmentIDs) > 0 && l.chance(0.65):
		id := pick(l.rng, seed.AssignmentIDs)
		base := "/subadmin/templates/" + id
		l.get(ctx, "subadmin.review", base+"/review")
		if l.chance(0.8) {
			l.call(ctx, "subadmin.sign", http.MethodPost, base+"/sign", map[string]any{"type": "standard"})
		} else {
			l.call(ctx, "subadmin.unsign", http.MethodDelete, base+"/sign", nil)
		}
	case len(seed.ClassIDs) > 0:
		l.call(ctx, "subadmin.signClass", http.MethodPost, "/subadmin/templates/sign-class/"+pick(l.rng, seed.ClassIDs), nil)
	default:
		l.get(ctx, "subadmin.listStudents", "/subadmin/students")
	}
}
