package simulation

import (
	"context"
	"net/http"
	"time"
)

// teacherBehavior 教师：浏览班级/学生，编辑成绩册并标记完成
type teacherBehavior struct{}

func (teacherBehavior) thinkTime() (time.Duration, time.Duration) {
	return 150 * time.Millisecond, 600 * time.Millisecond
}

func (teacherBehavior) episode(ctx context.Context, l *actorLoop) {
	data, ok := l.get(ctx, "teacher.listClasses", "/teacher/classes")
	classIDs := idsFrom(data)
	if !ok || len(classIDs) == 0 {
		return
	}

	data, ok = l.get(ctx, "teacher.listStudents", "/teacher/classes/"+pick(l.rng, classIDs)+"/students")
	studentIDs := idsFrom(data)
	if !ok || len(studentIDs) == 0 {
		return
	}

	data, ok = l.get(ctx, "teacher.listTemplates", "/teacher/students/"+pick(l.rng, studentIDs)+"/templates")
	assignmentIDs := idsFrom(data)
	if !ok || len(assignmentIDs) == 0 {
		return
	}

	assignmentID := pick(l.rng, assignmentIDs)
	base := "/teacher/template-assignments/" + assignmentID
	detail, ok := l.get(ctx, "teacher.getAssignment", base)
	if !ok {
		return
	}
	pages := parseTemplatePages(detail)

	patch := samplePatch(l.rng, buildPatch(l.rng, pages))
	l.call(ctx, "teacher.patchData", http.MethodPatch, base+"/data", map[string]any{"data": patch})

	if l.chance(0.4) {
		if target, ok := pickToggle(l.rng, pages); ok {
			l.call(ctx, "teacher.languageToggle", http.MethodPatch, base+"/language-toggle", target)
		}
	}

	switch {
	case l.chance(0.35):
		l.call(ctx, "teacher.markDone", http.MethodPost, "/teacher/templates/"+assignmentID+"/mark-done", nil)
	case l.chance(0.15):
		l.call(ctx, "teacher.unmarkDone", http.MethodPost, "/teacher/templates/"+assignmentID+"/unmark-done", nil)
	}
}
